package nakama

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type sentMessage struct {
	opCode int64
	data   []byte
	to     []string // session ids; nil means the whole match
}

// mockDispatcher records match dispatcher calls for assertions.
type mockDispatcher struct {
	sent   []sentMessage
	labels []string
}

func (md *mockDispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	msg := sentMessage{opCode: opCode, data: append([]byte(nil), data...)}
	for _, p := range presences {
		msg.to = append(msg.to, p.GetSessionId())
	}
	md.sent = append(md.sent, msg)
	return nil
}

func (md *mockDispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	return nil
}

func (md *mockDispatcher) MatchKick(presences []runtime.Presence) error {
	return nil
}

func (md *mockDispatcher) MatchLabelUpdate(label string) error {
	md.labels = append(md.labels, label)
	return nil
}

func (md *mockDispatcher) lastLabel() MatchLabel {
	var label MatchLabel
	if len(md.labels) > 0 {
		_ = json.Unmarshal([]byte(md.labels[len(md.labels)-1]), &label)
	}
	return label
}

// take returns and forgets everything sent so far.
func (md *mockDispatcher) take() []sentMessage {
	out := md.sent
	md.sent = nil
	return out
}

type testPresence struct {
	userID    string
	sessionID string
}

func (p testPresence) GetHidden() bool                   { return false }
func (p testPresence) GetPersistence() bool              { return false }
func (p testPresence) GetUsername() string               { return p.userID }
func (p testPresence) GetStatus() string                 { return "" }
func (p testPresence) GetReason() runtime.PresenceReason { return runtime.PresenceReasonUnknown }
func (p testPresence) GetUserId() string                 { return p.userID }
func (p testPresence) GetSessionId() string              { return p.sessionID }
func (p testPresence) GetNodeId() string                 { return "node" }

type testMatchData struct {
	testPresence
	opCode int64
	data   []byte
}

func (d testMatchData) GetOpCode() int64      { return d.opCode }
func (d testMatchData) GetData() []byte       { return d.data }
func (d testMatchData) GetReliable() bool     { return true }
func (d testMatchData) GetReceiveTime() int64 { return 0 }

// fakeNakama keeps storage objects and matches in memory. Methods the tests
// never reach panic through the nil embedded interface.
type fakeNakama struct {
	runtime.NakamaModule

	objects  map[string]*api.StorageObject
	versions int
	// rejectWrites makes the next n writes fail with a version conflict.
	rejectWrites int
	writes       int

	matches []*api.Match
}

func newFakeNakama() *fakeNakama {
	return &fakeNakama{objects: make(map[string]*api.StorageObject)}
}

func objectKey(collection, key, userID string) string {
	return collection + "/" + key + "/" + userID
}

func (f *fakeNakama) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	var out []*api.StorageObject
	for _, r := range reads {
		if obj, ok := f.objects[objectKey(r.Collection, r.Key, r.UserID)]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// StorageWrite applies all writes or none, honouring OCC versions.
func (f *fakeNakama) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	f.writes++
	if f.rejectWrites > 0 {
		f.rejectWrites--
		return nil, runtime.ErrStorageRejectedVersion
	}
	for _, w := range writes {
		existing, ok := f.objects[objectKey(w.Collection, w.Key, w.UserID)]
		switch {
		case w.Version == "*" && ok:
			return nil, runtime.ErrStorageRejectedVersion
		case w.Version != "" && w.Version != "*" && (!ok || existing.Version != w.Version):
			return nil, runtime.ErrStorageRejectedVersion
		}
	}
	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, w := range writes {
		f.versions++
		version := strconv.Itoa(f.versions)
		f.objects[objectKey(w.Collection, w.Key, w.UserID)] = &api.StorageObject{
			Collection:      w.Collection,
			Key:             w.Key,
			UserId:          w.UserID,
			Value:           w.Value,
			Version:         version,
			PermissionRead:  int32(w.PermissionRead),
			PermissionWrite: int32(w.PermissionWrite),
		}
		acks = append(acks, &api.StorageObjectAck{Collection: w.Collection, Key: w.Key, UserId: w.UserID, Version: version})
	}
	return acks, nil
}

func (f *fakeNakama) MatchList(ctx context.Context, limit int, authoritative bool, label string, minSize, maxSize *int, query string) ([]*api.Match, error) {
	var out []*api.Match
	for _, m := range f.matches {
		if strings.Contains(m.GetLabel().GetValue(), `"game":"pylos"`) {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeNakama) MatchCreate(ctx context.Context, module string, params map[string]interface{}) (string, error) {
	id := fmt.Sprintf("match-%d.node", len(f.matches)+1)
	label, _ := json.Marshal(MatchLabel{Game: labelGame, Name: params[paramGameName].(string), Open: 2, Phase: "awaiting_players"})
	f.matches = append(f.matches, &api.Match{
		MatchId:       id,
		Authoritative: true,
		Label:         wrapperspb.String(string(label)),
		HandlerName:   module,
	})
	return id, nil
}

// addForeignMatch registers a match from another module sharing the server.
func (f *fakeNakama) addForeignMatch(label string) {
	f.matches = append(f.matches, &api.Match{
		MatchId:       fmt.Sprintf("foreign-%d.node", len(f.matches)+1),
		Authoritative: true,
		Label:         wrapperspb.String(label),
	})
}
