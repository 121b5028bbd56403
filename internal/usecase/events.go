package usecase

import (
	"context"
	"encoding/json"
	"strings"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"bordereau/internal/domain/bsd"
)

// EventLog reads the append-only audit streams.
type EventLog struct {
	Runner *TxRunner
}

func NewEventLog(runner *TxRunner) *EventLog {
	return &EventLog{Runner: runner}
}

// Stream returns the events of streamID ordered by Seq.
func (l *EventLog) Stream(ctx context.Context, streamID string) ([]bsd.Event, error) {
	if strings.TrimSpace(streamID) == "" {
		return nil, bsd.Validation("stream id is required")
	}
	return readTx(ctx, l.Runner, func(tx Tx) ([]bsd.Event, error) {
		return tx.Events().ListByStream(ctx, streamID)
	})
}

type eventRecord struct {
	StreamID string
	Actor    string
	Type     string
	Payload  map[string]any
	Metadata map[string]any
}

func appendEvent(ctx context.Context, tx Tx, rec eventRecord) error {
	actor := rec.Actor
	if actor == "" {
		actor = bsd.SystemActor
	}
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := tx.Events().Append(ctx, bsd.Event{
		StreamID: rec.StreamID,
		Actor:    actor,
		Type:     rec.Type,
		Payload:  payload,
		Metadata: rec.Metadata,
	})
	return err
}

func documentEvent(doc bsd.Document, kind bsd.EventKind, actor Actor, payload map[string]any) eventRecord {
	return eventRecord{
		StreamID: doc.ID,
		Actor:    actor.ID,
		Type:     bsd.EventType(doc.Family, kind),
		Payload:  payload,
		Metadata: actor.metadata(),
	}
}

// documentPayload renders doc as the JSON object stored in Created events.
func documentPayload(doc bsd.Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// documentDiff is the JSON merge patch turning before into after.
func documentDiff(before, after bsd.Document) (map[string]any, error) {
	original, err := json.Marshal(before)
	if err != nil {
		return nil, err
	}
	modified, err := json.Marshal(after)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(original, modified)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(patch, &out); err != nil {
		return nil, err
	}
	delete(out, "updatedAt")
	return out, nil
}

// patchPayload renders a revision patch without its nil fields.
func patchPayload(patch bsd.RevisionPatch) (map[string]any, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
