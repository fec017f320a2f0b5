// Package bus carries model updates from the stores to connected clients.
// Packets are fan-out broadcast over per-client buffered channels; slow
// consumers drop packets rather than stall the writers.
package bus

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

const (
	ModelUpdateStr = "model"
	UpdateChSize   = 100
)

// UpdatePacket is anything that can be sent to clients over the bus.
type UpdatePacket interface {
	GetType() string
}

// ModelUpdateItem is one entity-shaped record inside a model update packet.
// GetType supplies the type tag the client switches on.
type ModelUpdateItem interface {
	GetType() string
}

// ModelUpdatePacketType bundles update items into one packet. It marshals
// as {"type":"model","data":[{"<itemtype>":{...}}, ...]}.
type ModelUpdatePacketType struct {
	Type string            `json:"type"`
	Data []ModelUpdateItem `json:"data"`
}

func (*ModelUpdatePacketType) GetType() string {
	return ModelUpdateStr
}

func MakeUpdatePacket() *ModelUpdatePacketType {
	return &ModelUpdatePacketType{Type: ModelUpdateStr}
}

func (upk *ModelUpdatePacketType) AddUpdate(items ...ModelUpdateItem) {
	upk.Data = append(upk.Data, items...)
}

func (upk *ModelUpdatePacketType) IsEmpty() bool {
	return upk == nil || len(upk.Data) == 0
}

func (upk *ModelUpdatePacketType) MarshalJSON() ([]byte, error) {
	rtn := make(map[string]any)
	rtn["type"] = upk.Type
	itemArr := make([]map[string]any, 0, len(upk.Data))
	for _, item := range upk.Data {
		itemArr = append(itemArr, map[string]any{item.GetType(): item})
	}
	rtn["data"] = itemArr
	return json.Marshal(rtn)
}

// GetUpdateItems returns the items in upk with the given type tag.
func GetUpdateItems[I ModelUpdateItem](upk *ModelUpdatePacketType) []I {
	var rtn []I
	if upk == nil {
		return rtn
	}
	for _, item := range upk.Data {
		if typed, ok := item.(I); ok {
			rtn = append(rtn, typed)
		}
	}
	return rtn
}

// InfoMsgType is a transient informational update (not persisted).
type InfoMsgType struct {
	InfoTitle string `json:"infotitle,omitempty"`
	InfoMsg   string `json:"infomsg,omitempty"`
	InfoError string `json:"infoerror,omitempty"`
	TimeoutMs int64  `json:"timeoutms,omitempty"`
}

func (InfoMsgType) GetType() string {
	return "info"
}

func InfoMsgUpdate(infoMsgFmt string, args ...any) *ModelUpdatePacketType {
	upk := MakeUpdatePacket()
	upk.AddUpdate(InfoMsgType{InfoMsg: fmt.Sprintf(infoMsgFmt, args...)})
	return upk
}

// UpdateBus broadcasts packets to registered client channels.
type UpdateBus struct {
	Lock     *sync.Mutex
	Channels map[string]chan UpdatePacket
}

func MakeUpdateBus() *UpdateBus {
	return &UpdateBus{
		Lock:     &sync.Mutex{},
		Channels: make(map[string]chan UpdatePacket),
	}
}

// MainBus is the process-wide bus.
var MainBus = MakeUpdateBus()

// RegisterChannel returns a new buffered channel for clientId, closing and
// replacing any previous channel registered under the same id.
func (b *UpdateBus) RegisterChannel(clientId string) chan UpdatePacket {
	b.Lock.Lock()
	defer b.Lock.Unlock()
	if prev, found := b.Channels[clientId]; found {
		close(prev)
	}
	ch := make(chan UpdatePacket, UpdateChSize)
	b.Channels[clientId] = ch
	return ch
}

func (b *UpdateBus) UnregisterChannel(clientId string) {
	b.Lock.Lock()
	defer b.Lock.Unlock()
	if prev, found := b.Channels[clientId]; found {
		close(prev)
		delete(b.Channels, clientId)
	}
}

// DoUpdate broadcasts pk to all registered channels without blocking; a
// full channel drops the packet for that client.
func (b *UpdateBus) DoUpdate(pk UpdatePacket) {
	if pk == nil {
		return
	}
	if mpk, ok := pk.(*ModelUpdatePacketType); ok && mpk.IsEmpty() {
		return
	}
	b.Lock.Lock()
	defer b.Lock.Unlock()
	for clientId, ch := range b.Channels {
		select {
		case ch <- pk:
		default:
			log.Printf("[bus] dropped update %s for client %s (channel full)", pk.GetType(), clientId)
		}
	}
}
