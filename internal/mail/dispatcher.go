// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SynthStack Contributors

package mail

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/synthstack/authcore/internal/auth"
	"github.com/synthstack/authcore/internal/observability"
	"github.com/synthstack/authcore/pkg/errutil"
)

var _ auth.Mailer = (*Dispatcher)(nil)

// Defaults for Config fields left zero.
const (
	DefaultQueueSize   = 256
	DefaultWorkers     = 2
	DefaultSendTimeout = 30 * time.Second
	DefaultRetryDelay  = 500 * time.Millisecond
)

// Config sizes a Dispatcher.
type Config struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
	// MaxRetries is the number of extra attempts after a failed send.
	MaxRetries uint64
	RetryDelay time.Duration
	// LinkBase prefixes the links in verification and reset mail.
	LinkBase string
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

type job struct {
	ctx context.Context
	msg Message
}

// Dispatcher implements auth.Mailer with a bounded queue drained by worker
// goroutines. Requests never block: when the queue is full the message is
// dropped and counted.
type Dispatcher struct {
	sender Sender
	cfg    Config
	logger *slog.Logger

	queue chan job
	stop  context.Context
	halt  context.CancelFunc
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewDispatcher starts cfg.Workers goroutines delivering through sender.
// Callers must Close it.
func NewDispatcher(sender Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	stop, halt := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan job, cfg.QueueSize),
		stop:   stop,
		halt:   halt,
	}
	for range cfg.Workers {
		d.wg.Go(d.work)
	}
	return d
}

// SendVerificationEmail queues a verification email carrying token.
func (d *Dispatcher) SendVerificationEmail(ctx context.Context, to, token string) error {
	return d.enqueue(ctx, KindVerification, to, token)
}

// SendPasswordResetEmail queues a password reset email carrying token.
func (d *Dispatcher) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	return d.enqueue(ctx, KindPasswordReset, to, token)
}

// SendWelcomeEmail queues a welcome email.
func (d *Dispatcher) SendWelcomeEmail(ctx context.Context, to, displayName string) error {
	return d.enqueue(ctx, KindWelcome, to, displayName)
}

func (d *Dispatcher) enqueue(ctx context.Context, kind Kind, to, value string) error {
	msg, err := render(kind, to, value, d.cfg.LinkBase)
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return oops.Code("MAIL_CLOSED").With("kind", string(kind)).Errorf("mail dispatcher is closed")
	}

	// The request context ends with the request; keep its values only.
	select {
	case d.queue <- job{ctx: context.WithoutCancel(ctx), msg: msg}:
		return nil
	default:
		observability.RecordMailDropped(string(kind))
		return oops.Code("MAIL_QUEUE_FULL").With("kind", string(kind)).Errorf("mail queue is full")
	}
}

func (d *Dispatcher) work() {
	for j := range d.queue {
		if d.stop.Err() != nil {
			d.logger.Warn("email abandoned at shutdown", "kind", string(j.msg.Kind))
			continue
		}
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.cfg.SendTimeout)
	defer cancel()
	unhook := context.AfterFunc(d.stop, cancel)
	defer unhook()

	backoff := retry.WithMaxRetries(d.cfg.MaxRetries, retry.NewExponential(d.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := d.sender.Send(ctx, j.msg); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		errutil.LogWarn(ctx, d.logger, "email delivery failed", err, "kind", string(j.msg.Kind))
		return
	}
	d.logger.DebugContext(ctx, "email delivered", "kind", string(j.msg.Kind))
}

// Close stops accepting mail and waits for queued messages to be delivered.
// If ctx ends first, in-flight sends are cancelled, the rest of the queue is
// abandoned and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.halt()
		return nil
	case <-ctx.Done():
		d.halt()
		<-done
		return oops.Code("MAIL_DRAIN_INCOMPLETE").Wrap(ctx.Err())
	}
}
