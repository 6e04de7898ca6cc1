// Package dispatch maps requester commands onto the activation registry, the
// usage ledger and the acquisition engine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/EternisAI/mailbroker/internal/activation"
	"github.com/EternisAI/mailbroker/internal/engine"
	"github.com/EternisAI/mailbroker/internal/monitoring"
	"github.com/EternisAI/mailbroker/internal/provider"
)

const DefaultMailType = "outlook"

var DefaultMailTypes = []string{"outlook", "hotmail"}

type Activator interface {
	IsClaimed(ctx context.Context, identity string) (bool, error)
	Claim(ctx context.Context, code string, identity string) error
}

type Acquirer interface {
	Acquire(ctx context.Context, requesterID string, mailType string) (engine.Acquisition, error)
	Cancel(ctx context.Context, requesterID string) (string, error)
	Status(ctx context.Context, requesterID string) (monitoring.Resource, bool, error)
}

type UsageReader interface {
	Get(ctx context.Context, requesterID string) (int64, error)
}

type Config struct {
	MailTypes       []string `mapstructure:"mail_types"`
	DefaultMailType string   `mapstructure:"default_mail_type"`
}

type Event struct {
	RequesterID string
	Command     Command
	Args        []string
}

type Dispatcher struct {
	keys        Activator
	engine      Acquirer
	usage       UsageReader
	mailTypes   []string
	defaultType string
}

func New(keys Activator, acquirer Acquirer, usage UsageReader, cfg Config) *Dispatcher {
	mailTypes := DefaultMailTypes
	if len(cfg.MailTypes) > 0 {
		mailTypes = make([]string, len(cfg.MailTypes))
		for i, t := range cfg.MailTypes {
			mailTypes[i] = strings.ToLower(strings.TrimSpace(t))
		}
	}
	defaultType := strings.ToLower(cfg.DefaultMailType)
	if defaultType == "" {
		defaultType = DefaultMailType
	}

	return &Dispatcher{
		keys:        keys,
		engine:      acquirer,
		usage:       usage,
		mailTypes:   mailTypes,
		defaultType: defaultType,
	}
}

// Handle runs one event to completion. It never returns an error: every
// failure is folded into the Result kind.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Result {
	if ev.Command == CommandUnknown {
		return Result{Kind: KindUnrecognized, Message: msgUnrecognized}
	}
	if strings.TrimSpace(ev.RequesterID) == "" {
		return Result{Kind: KindValidation, Message: "Requester id is required."}
	}

	log := slog.With("requester_id", ev.RequesterID, "command", ev.Command.String())

	if ev.Command.requiresActivation() {
		activated, err := d.keys.IsClaimed(ctx, ev.RequesterID)
		if err != nil {
			log.Error("Failed to check activation", "error", err)
			return storeFailure()
		}
		if !activated {
			return Result{Kind: KindNotActivated, Message: msgNotActivated}
		}
	}

	switch ev.Command {
	case CommandStart:
		return Result{Kind: KindOK, Message: msgStart}
	case CommandActivate:
		return d.activate(ctx, log, ev)
	case CommandAcquire:
		return d.acquire(ctx, log, ev)
	case CommandStatus:
		return d.status(ctx, log, ev)
	case CommandUsage:
		return d.count(ctx, log, ev)
	case CommandCancel:
		return d.cancel(ctx, log, ev)
	default:
		return Result{Kind: KindUnrecognized, Message: msgUnrecognized}
	}
}

func (d *Dispatcher) activate(ctx context.Context, log *slog.Logger, ev Event) Result {
	if len(ev.Args) != 1 {
		return Result{Kind: KindValidation, Message: "Send the code after the command, for example: /act ABCD-EFGH-IJKL"}
	}

	err := d.keys.Claim(ctx, ev.Args[0], ev.RequesterID)
	switch {
	case err == nil:
		log.Info("Requester activated")
		return Result{Kind: KindOK, Message: "Your access is now activated."}
	case errors.Is(err, activation.ErrKeyNotFound), errors.Is(err, activation.ErrInvalidCode):
		return Result{Kind: KindValidation, Message: "This activation code is not valid."}
	case errors.Is(err, activation.ErrKeyAlreadyClaimed):
		return Result{Kind: KindConflict, Message: "This activation code has already been used."}
	default:
		log.Error("Activation failed", "error", err)
		return storeFailure()
	}
}

func (d *Dispatcher) acquire(ctx context.Context, log *slog.Logger, ev Event) Result {
	mailType := d.defaultType
	if len(ev.Args) > 0 {
		mailType = strings.ToLower(ev.Args[0])
	}
	if !slices.Contains(d.mailTypes, mailType) {
		return Result{
			Kind:    KindValidation,
			Message: fmt.Sprintf("Unknown account type %q. Available: %s.", mailType, strings.Join(d.mailTypes, ", ")),
		}
	}

	acq, err := d.engine.Acquire(ctx, ev.RequesterID, mailType)
	if err != nil {
		return engineFailure(log, err)
	}

	return Result{
		Kind: KindOK,
		Message: fmt.Sprintf("Your %s account is %s. Watching its inbox; the code will be sent here when it arrives.",
			mailType, acq.Address),
		Data: AcquisitionData{MailType: mailType, Address: acq.Address, Handle: acq.Handle},
	}
}

func (d *Dispatcher) status(ctx context.Context, log *slog.Logger, ev Event) Result {
	res, ok, err := d.engine.Status(ctx, ev.RequesterID)
	if err != nil {
		log.Error("Failed to read monitoring status", "error", err)
		return storeFailure()
	}
	if !ok {
		return Result{Kind: KindOK, Message: "You have no account under monitoring."}
	}

	address := provider.AddressOf(res.Handle)
	return Result{
		Kind:    KindOK,
		Message: fmt.Sprintf("Current account: %s", address),
		Data:    StatusData{Address: address, Handle: res.Handle},
	}
}

func (d *Dispatcher) count(ctx context.Context, log *slog.Logger, ev Event) Result {
	n, err := d.usage.Get(ctx, ev.RequesterID)
	if err != nil {
		log.Error("Failed to read usage", "error", err)
		return storeFailure()
	}
	return Result{
		Kind:    KindOK,
		Message: fmt.Sprintf("Accounts acquired: %d", n),
		Data:    UsageData{Count: n},
	}
}

func (d *Dispatcher) cancel(ctx context.Context, log *slog.Logger, ev Event) Result {
	handle, err := d.engine.Cancel(ctx, ev.RequesterID)
	if err != nil {
		return engineFailure(log, err)
	}

	address := provider.AddressOf(handle)
	return Result{
		Kind:    KindOK,
		Message: fmt.Sprintf("Stopped watching %s.", address),
		Data:    StatusData{Address: address, Handle: handle},
	}
}

func engineFailure(log *slog.Logger, err error) Result {
	switch {
	case errors.Is(err, engine.ErrAlreadyMonitoring):
		return Result{Kind: KindConflict, Message: "You already have an account under monitoring. Use /deleteacc to release it first."}
	case errors.Is(err, engine.ErrAcquireInProgress):
		return Result{Kind: KindConflict, Message: "Your previous request is still being processed."}
	case errors.Is(err, engine.ErrNotMonitoring):
		return Result{Kind: KindValidation, Message: "You have no account under monitoring."}
	case errors.Is(err, engine.ErrEmptyAcquisition):
		return Result{Kind: KindProvider, Message: "The provider returned no account. Please try again later."}
	}

	var perr *provider.Error
	if errors.As(err, &perr) {
		return Result{Kind: KindProvider, Message: "The provider rejected the request: " + perr.Reason()}
	}

	log.Error("Command failed", "error", err)
	return storeFailure()
}

func storeFailure() Result {
	return Result{Kind: KindStore, Message: msgStoreFailure}
}
