package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// document is the on-disk outbox layout.
type document struct {
	Signals []Signal `json:"signals"`
}

// Outbox is a file-backed FIFO of pending signals, shared between the signal
// source (append) and the coordinator (pop). Every write is an atomic
// replace; readers never observe a partial file.
type Outbox struct {
	path string
}

// New constructs an outbox over path.
func New(path string) *Outbox {
	return &Outbox{path: path}
}

// Ensure creates an empty outbox file when none exists.
func (o *Outbox) Ensure() error {
	if err := os.MkdirAll(filepath.Dir(o.path), 0o755); err != nil {
		return fmt.Errorf("create outbox dir: %w", err)
	}
	info, err := os.Stat(o.path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat outbox: %w", err)
	}
	return o.write(document{Signals: []Signal{}})
}

// Append adds a signal to the end of the queue.
func (o *Outbox) Append(sig Signal) error {
	doc, err := o.read()
	if err != nil {
		return err
	}
	doc.Signals = append(doc.Signals, sig)
	return o.write(doc)
}

// Pop removes and returns the oldest pending signal, or nil when the queue
// is empty. At most one entry is consumed per call; the rewrite happens
// before the signal is returned, so a redelivered entry can only come from a
// crash between rewrite and execution — which the idempotency ledger absorbs.
func (o *Outbox) Pop() (*Signal, error) {
	doc, err := o.read()
	if err != nil {
		return nil, err
	}
	if len(doc.Signals) == 0 {
		return nil, nil
	}

	sig := doc.Signals[0]
	doc.Signals = doc.Signals[1:]
	if err := o.write(doc); err != nil {
		return nil, err
	}
	return &sig, nil
}

// Pending reports the queue depth.
func (o *Outbox) Pending() (int, error) {
	doc, err := o.read()
	if err != nil {
		return 0, err
	}
	return len(doc.Signals), nil
}

func (o *Outbox) read() (document, error) {
	if err := o.Ensure(); err != nil {
		return document{}, err
	}
	payload, err := os.ReadFile(o.path)
	if err != nil {
		return document{}, fmt.Errorf("read outbox: %w", err)
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return document{}, fmt.Errorf("decode outbox: %w", err)
	}
	return doc, nil
}

func (o *Outbox) write(doc document) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode outbox: %w", err)
	}

	tmp := o.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp: %w", err)
	}
	if err := os.Rename(tmp, o.path); err != nil {
		return fmt.Errorf("replace outbox: %w", err)
	}
	return nil
}
