package sstore

import (
	"sync"
	"time"

	"github.com/tribixbite/waveterm/internal/suggest"
)

// Status indicator levels, in priority order. A screen's indicator only
// moves up until the frontend resets it.
type StatusIndicatorLevel int

const (
	StatusIndicatorLevel_None StatusIndicatorLevel = iota
	StatusIndicatorLevel_Output
	StatusIndicatorLevel_Success
	StatusIndicatorLevel_Error
)

type ScreenStatusIndicatorType struct {
	ScreenId string               `json:"screenid"`
	Status   StatusIndicatorLevel `json:"status"`
}

func (ScreenStatusIndicatorType) GetType() string {
	return "screenstatusindicator"
}

type ScreenNumRunningCommandsType struct {
	ScreenId string `json:"screenid"`
	Num      int    `json:"num"`
}

func (ScreenNumRunningCommandsType) GetType() string {
	return "screennumrunningcommands"
}

type OpenAICmdInfoPacketOutputType struct {
	Model        string `json:"model,omitempty"`
	Created      int64  `json:"created,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

type OpenAICmdInfoChatMessage struct {
	MessageID           int                            `json:"messageid"`
	IsAssistantResponse bool                           `json:"isassistantresponse,omitempty"`
	AssistantResponse   *OpenAICmdInfoPacketOutputType `json:"assistantresponse,omitempty"`
	UserQuery           string                         `json:"userquery,omitempty"`
	UserEngineeredQuery string                         `json:"userengineeredquery,omitempty"`
}

type OpenAICmdInfoChatUpdate struct {
	ScreenId string                      `json:"screenid"`
	Messages []*OpenAICmdInfoChatMessage `json:"messages"`
}

func (OpenAICmdInfoChatUpdate) GetType() string {
	return "openaicmdinfochat"
}

// ScreenMemState is the per-screen state that never hits the DB: typed-but
// not-run command input, transient indicators, and the cmd-info AI chat.
type ScreenMemState struct {
	NumRunningCommands int                         `json:"numrunningcommands,omitempty"`
	StatusIndicator    StatusIndicatorLevel        `json:"statusindicator,omitempty"`
	CmdInputText       suggest.StrWithPos          `json:"cmdinputtext,omitempty"`
	CmdInputSeqNum     int                         `json:"cmdinputseqnum,omitempty"`
	AICmdInfoChat      []*OpenAICmdInfoChatMessage `json:"aicmdinfochat,omitempty"`
}

var screenMemLock = &sync.Mutex{}
var screenMemStore = make(map[string]*ScreenMemState)

func getScreenMemState_nolock(screenId string) *ScreenMemState {
	mem, ok := screenMemStore[screenId]
	if !ok {
		mem = &ScreenMemState{}
		screenMemStore[screenId] = mem
	}
	return mem
}

// ScreenMemSetCmdInputText records the frontend's in-progress command
// input. Stale sequence numbers are ignored (updates can arrive out of
// order).
func ScreenMemSetCmdInputText(screenId string, sp suggest.StrWithPos, seqNum int) {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	if seqNum <= mem.CmdInputSeqNum {
		return
	}
	mem.CmdInputText = sp
	mem.CmdInputSeqNum = seqNum
}

func ScreenMemGetCmdInputText(screenId string) (suggest.StrWithPos, int) {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	return mem.CmdInputText, mem.CmdInputSeqNum
}

// SetStatusIndicatorLevel raises the screen's indicator to level (a lower
// level is ignored unless force is set) and returns the resulting level.
func SetStatusIndicatorLevel(screenId string, level StatusIndicatorLevel, force bool) StatusIndicatorLevel {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	if force || level > mem.StatusIndicator {
		mem.StatusIndicator = level
	}
	return mem.StatusIndicator
}

func ResetStatusIndicator(screenId string) StatusIndicatorLevel {
	return SetStatusIndicatorLevel(screenId, StatusIndicatorLevel_None, true)
}

func GetStatusIndicatorLevel(screenId string) StatusIndicatorLevel {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	return getScreenMemState_nolock(screenId).StatusIndicator
}

// IncrementNumRunningCmds adjusts the screen's running-command counter
// (clamped at zero) and returns the new value.
func IncrementNumRunningCmds(screenId string, delta int) int {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	mem.NumRunningCommands += delta
	if mem.NumRunningCommands < 0 {
		mem.NumRunningCommands = 0
	}
	return mem.NumRunningCommands
}

func GetNumRunningCmds(screenId string) int {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	return getScreenMemState_nolock(screenId).NumRunningCommands
}

const ScreenMemInitialMessage = "How can I help?"

// ScreenMemInitCmdInfoChat resets the screen's cmd-info chat to the
// greeting message.
func ScreenMemInitCmdInfoChat(screenId string) {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	mem.AICmdInfoChat = []*OpenAICmdInfoChatMessage{
		{
			MessageID:           0,
			IsAssistantResponse: true,
			AssistantResponse: &OpenAICmdInfoPacketOutputType{
				Created: time.Now().Unix(),
				Message: ScreenMemInitialMessage,
			},
		},
	}
}

func ScreenMemAddCmdInfoChatMessage(screenId string, msg *OpenAICmdInfoChatMessage) {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	msg.MessageID = len(mem.AICmdInfoChat)
	mem.AICmdInfoChat = append(mem.AICmdInfoChat, msg)
}

// ScreenMemUpdateCmdInfoChatMessage replaces the message with the given id
// (used to stream assistant output into an existing slot).
func ScreenMemUpdateCmdInfoChatMessage(screenId string, messageId int, msg *OpenAICmdInfoChatMessage) bool {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	if messageId < 0 || messageId >= len(mem.AICmdInfoChat) {
		return false
	}
	msg.MessageID = messageId
	mem.AICmdInfoChat[messageId] = msg
	return true
}

// ScreenMemGetCmdInfoChat returns a copy of the chat (messages are shared
// pointers, the slice is not).
func ScreenMemGetCmdInfoChat(screenId string) []*OpenAICmdInfoChatMessage {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	mem := getScreenMemState_nolock(screenId)
	rtn := make([]*OpenAICmdInfoChatMessage, len(mem.AICmdInfoChat))
	copy(rtn, mem.AICmdInfoChat)
	return rtn
}

// ScreenMemDelete drops the in-memory state for a deleted screen.
func ScreenMemDelete(screenId string) {
	screenMemLock.Lock()
	defer screenMemLock.Unlock()
	delete(screenMemStore, screenId)
}
