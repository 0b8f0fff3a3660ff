// Package chat owns the state of one conversation: the selected model, the
// live generation and the transcript.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/samcharles93/aistudio/internal/backend"
	"github.com/samcharles93/aistudio/internal/catalog"
	"github.com/samcharles93/aistudio/internal/inference"
	"github.com/samcharles93/aistudio/internal/logger"
	"github.com/samcharles93/aistudio/internal/model"
)

// SettingsSource supplies the generation settings captured at each Send.
type SettingsSource interface {
	Get() model.Settings
}

type Config struct {
	Loader   *inference.Loader
	Settings SettingsSource
	Log      logger.Logger
}

// Context is one conversation. It is safe for concurrent use; at most one
// generation runs at a time.
type Context struct {
	id  string
	cfg Config
	log logger.Logger

	mu       sync.Mutex
	model    *model.Descriptor
	messages []Message
	current  *inference.Session
	closed   bool
}

func New(cfg Config) *Context {
	id := uuid.NewString()
	return &Context{
		id:  id,
		cfg: cfg,
		log: logger.OrDefault(cfg.Log).With("chat", id),
	}
}

func (c *Context) ID() string { return c.id }

// SelectModel makes d the model for subsequent sends. A model without a
// tokenizer, or one known to be unsupported, is refused.
func (c *Context) SelectModel(d model.Descriptor) error {
	if err := catalog.CheckSelectable(d); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.model = &d
	c.log.Info("model selected", "model", d.Name, "status", d.Compatibility)
	return nil
}

func (c *Context) Model() (model.Descriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == nil {
		return model.Descriptor{}, false
	}
	return *c.model, true
}

// Messages returns a copy of the transcript.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Busy reports whether a generation is live.
func (c *Context) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.State().Terminal()
}

// Send starts a new turn. A generation still running is cancelled and its
// resources released before the new session is created, so two sessions of
// one chat never hold a runtime at the same time.
func (c *Context) Send(ctx context.Context, prompt string, accelerator backend.Kind) (*Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		prev := c.current
		if prev == nil || prev.State().Terminal() {
			break
		}
		c.mu.Unlock()
		prev.Cancel()
		if err := prev.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for previous generation: %w", err)
		}
	}
	defer c.mu.Unlock()

	if c.model == nil {
		return nil, ErrNoModel
	}
	settings := model.DefaultSettings()
	if c.cfg.Settings != nil {
		settings = c.cfg.Settings.Get()
	}
	sess := c.cfg.Loader.NewSession(inference.Request{
		ModelPath:     c.model.ModelPath,
		TokenizerPath: c.model.TokenizerPath,
		Accelerator:   accelerator,
		Settings:      settings,
		Prompt:        prompt,
	})
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: prompt},
		Message{Role: RoleAssistant, SessionID: sess.ID()},
	)
	c.current = sess
	c.log.Debug("turn started", "session", sess.ID(), "accelerator", accelerator)
	return &Turn{chat: c, session: sess, index: len(c.messages) - 1}, nil
}

// Stop cancels the live generation, if any. It does not wait.
func (c *Context) Stop() {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess != nil {
		sess.Cancel()
	}
}

// Close stops the live generation and waits for its resources to be
// released. Later calls are no-ops.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sess := c.current
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	sess.Cancel()
	<-sess.Done()
	return nil
}

func (c *Context) appendFragment(index int, frag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < len(c.messages) {
		c.messages[index].Content += frag
		c.messages[index].generated += len(frag)
	}
}

func (c *Context) appendError(index int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < len(c.messages) {
		c.messages[index].Content += errorNotice(err)
		c.messages[index].Error = err.Error()
	}
}
