package plugins

import (
	"context"
	"encoding/json"
	"log/slog"

	extism "github.com/extism/go-sdk"

	"github.com/pavilion-host/pavilion/internal/events"
	"github.com/pavilion-host/pavilion/internal/secrets"
	"github.com/pavilion-host/pavilion/internal/store"
)

// hostNamespace is the import namespace plugins link host functions from.
const hostNamespace = "pavilion"

// hostLogMessage is the JSON structure for pavilion.log calls.
type hostLogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// hostEmitEvent is the JSON structure for pavilion.emit_event calls.
type hostEmitEvent struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// hostDBRequest is the JSON structure for pavilion.db_* calls.
type hostDBRequest struct {
	Entity string         `json:"entity"`
	ID     string         `json:"id,omitempty"`
	Doc    map[string]any `json:"doc,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

type hostResult struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error"`
}

// newHostFunctions builds the host import set for one plugin. Every function
// is registered so modules that import an ungranted one still instantiate;
// the call itself checks the grant and returns a denial result instead.
func newHostFunctions(desc *Descriptor, grant *GrantResult, bus *events.Bus, log *slog.Logger) []extism.HostFunction {
	h := &hostBinding{desc: desc, grant: grant, bus: bus, log: log}

	var fns []extism.HostFunction
	add := func(fn extism.HostFunction) {
		fn.SetNamespace(hostNamespace)
		fns = append(fns, fn)
	}

	add(extism.NewHostFunctionWithStack("log", h.logFn,
		[]extism.ValueType{extism.ValueTypePTR}, nil))
	add(extism.NewHostFunctionWithStack("get_config", h.getConfig,
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("emit_event", h.emitEvent,
		[]extism.ValueType{extism.ValueTypePTR}, nil))
	add(extism.NewHostFunctionWithStack("id_new", h.idNew,
		nil, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("secret_get", h.secretGet,
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("db_get", h.dbOp(dbGet),
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("db_put", h.dbOp(dbPut),
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("db_delete", h.dbOp(dbDelete),
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))
	add(extism.NewHostFunctionWithStack("db_list", h.dbOp(dbList),
		[]extism.ValueType{extism.ValueTypePTR}, []extism.ValueType{extism.ValueTypePTR}))

	return fns
}

type hostBinding struct {
	desc  *Descriptor
	grant *GrantResult
	bus   *events.Bus
	log   *slog.Logger
}

// writeResult marshals a hostResult back to the guest. A marshal or write
// failure leaves 0 on the stack, which guests treat as a host fault.
func (h *hostBinding) writeResult(p *extism.CurrentPlugin, stack []uint64, res hostResult) {
	data, err := json.Marshal(res)
	if err != nil {
		h.log.Error("host function result marshal", "error", err)
		stack[0] = 0
		return
	}
	offset, err := p.WriteBytes(data)
	if err != nil {
		h.log.Error("host function result write", "error", err)
		stack[0] = 0
		return
	}
	stack[0] = offset
}

func (h *hostBinding) denied(p *extism.CurrentPlugin, stack []uint64, capability string) {
	h.log.Warn("plugin called host function without grant",
		"plugin", h.desc.Namespace(), "capability", capability)
	h.writeResult(p, stack, hostResult{Error: "capability not granted: " + capability})
}

func (h *hostBinding) logFn(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
	input, err := p.ReadBytes(stack[0])
	if err != nil {
		h.log.Error("host log read input", "error", err)
		return
	}
	var msg hostLogMessage
	if err := json.Unmarshal(input, &msg); err != nil {
		h.log.Warn("invalid plugin log message", "raw", string(input))
		return
	}
	switch msg.Level {
	case "debug":
		h.log.Debug(msg.Message)
	case "warn":
		h.log.Warn(msg.Message)
	case "error":
		h.log.Error(msg.Message)
	default:
		h.log.Info(msg.Message)
	}
}

func (h *hostBinding) getConfig(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
	key, err := p.ReadString(stack[0])
	if err != nil {
		stack[0] = 0
		return
	}
	offset, err := p.WriteString(h.desc.Manifest.Config[key])
	if err != nil {
		stack[0] = 0
		return
	}
	stack[0] = offset
}

func (h *hostBinding) emitEvent(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
	input, err := p.ReadBytes(stack[0])
	if err != nil {
		h.log.Error("emit_event read", "error", err)
		return
	}
	var ev hostEmitEvent
	if err := json.Unmarshal(input, &ev); err != nil {
		h.log.Warn("invalid emit_event payload", "raw", string(input))
		return
	}
	h.bus.Publish(events.NewPluginEvent(events.EventType(ev.Type), events.SourcePlugin,
		h.desc.Namespace(), ev.Payload))
}

func (h *hostBinding) idNew(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
	gen, ok := h.grant.Context["idgen"].(IDGenerator)
	if !ok {
		h.denied(p, stack, "idgen")
		return
	}
	offset, err := p.WriteString(gen())
	if err != nil {
		stack[0] = 0
		return
	}
	stack[0] = offset
}

func (h *hostBinding) secretGet(_ context.Context, p *extism.CurrentPlugin, stack []uint64) {
	bag, ok := h.grant.Context["secrets"].(*secrets.ScopedBag)
	if !ok {
		h.denied(p, stack, "secrets")
		return
	}
	key, err := p.ReadString(stack[0])
	if err != nil {
		stack[0] = 0
		return
	}
	value, err := bag.Get(key)
	if err != nil {
		h.writeResult(p, stack, hostResult{Error: err.Error()})
		return
	}
	h.writeResult(p, stack, hostResult{OK: true, Data: value})
}

type dbOpKind int

const (
	dbGet dbOpKind = iota
	dbPut
	dbDelete
	dbList
)

// dbOp returns a host function body for one datastore operation. All four go
// through the plugin's scoped client, so the sensitive-entity guard applies
// to wasm callers exactly as it does to native ones.
func (h *hostBinding) dbOp(kind dbOpKind) func(context.Context, *extism.CurrentPlugin, []uint64) {
	return func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
		client, ok := h.grant.Context["db"].(store.Client)
		if !ok {
			h.denied(p, stack, "database")
			return
		}
		input, err := p.ReadBytes(stack[0])
		if err != nil {
			stack[0] = 0
			return
		}
		var req hostDBRequest
		if err := json.Unmarshal(input, &req); err != nil {
			h.writeResult(p, stack, hostResult{Error: "invalid request: " + err.Error()})
			return
		}

		var data any
		switch kind {
		case dbGet:
			data, err = client.Get(ctx, req.Entity, req.ID)
		case dbPut:
			err = client.Put(ctx, req.Entity, req.ID, req.Doc)
		case dbDelete:
			err = client.Delete(ctx, req.Entity, req.ID)
		case dbList:
			data, err = client.List(ctx, req.Entity, req.Limit)
		}
		if err != nil {
			h.writeResult(p, stack, hostResult{Error: err.Error()})
			return
		}
		h.writeResult(p, stack, hostResult{OK: true, Data: data})
	}
}
