package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/junction/internal/config"
	"github.com/zulandar/junction/internal/convlog"
	"github.com/zulandar/junction/internal/db"
	"github.com/zulandar/junction/internal/directory"
	"github.com/zulandar/junction/internal/envelope"
	"github.com/zulandar/junction/internal/llm"
	"github.com/zulandar/junction/internal/payment"
	"github.com/zulandar/junction/internal/router"
	"github.com/zulandar/junction/internal/tools"
	"github.com/zulandar/junction/internal/transport"
	"gorm.io/gorm"
)

// agent is one assembled dispatcher and the resources it holds open.
type agent struct {
	cfg        *config.Config
	stores     *directory.Stores
	dispatcher *router.Dispatcher
	closers    []func() error
}

// agentOpts holds parameters for buildAgent.
type agentOpts struct {
	Config *config.Config
	Logger zerolog.Logger
	// OnEnvelope receives every well-formed inbound peer envelope.
	OnEnvelope func(env *envelope.Envelope)
	// Sender overrides the HTTP sender. Used by tests.
	Sender transport.Sender
	// Settler overrides the MCP settlement client. Used by tests.
	Settler payment.Settler
}

// buildAgent opens the directory and wires every optional collaborator the
// config enables into a Dispatcher.
func buildAgent(ctx context.Context, opts agentOpts) (*agent, error) {
	cfg := opts.Config
	log := opts.Logger
	a := &agent{cfg: cfg}

	stores, err := directory.Open(ctx, cfg.Directory, log)
	if err != nil {
		return nil, err
	}
	a.stores = stores
	a.closers = append(a.closers, stores.Close)

	conv, err := openConvLog(cfg, a)
	if err != nil {
		a.Close()
		return nil, err
	}

	completer, err := llm.New(cfg.LLM)
	if err != nil {
		a.Close()
		return nil, err
	}

	var improver router.Improver
	if cfg.LLM.Improve && completer != nil {
		imp, err := llm.NewImprover(completer, "")
		if err != nil {
			a.Close()
			return nil, err
		}
		improver = imp
	}

	dialer := tools.MCPDialer{ClientName: "junction", ClientVersion: Version}

	var invoker router.ToolInvoker
	if runner, ok := completer.(tools.Runner); ok && stores.Tools != nil {
		inv, err := tools.NewInvoker(tools.InvokerOpts{
			Tools:          stores.Tools,
			Dialer:         dialer,
			Runner:         runner,
			SmitheryAPIKey: cfg.Tools.SmitheryAPIKey,
			Timeout:        cfg.Tools.Timeout,
			Logger:         log,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		invoker = inv
	}

	var gate router.PaymentGate
	if cfg.Payment.Enabled {
		settler := opts.Settler
		if settler == nil {
			settler, err = payment.NewMCPSettler(cfg.Payment.SettlementURL, dialer)
			if err != nil {
				a.Close()
				return nil, err
			}
		}
		g, err := payment.NewGate(payment.GateOpts{
			Directory: stores.Agents,
			Settler:   settler,
			AgentID:   cfg.Agent.ID,
			PublicURL: cfg.AgentURL(),
			Config:    cfg.Payment,
			Timeout:   cfg.Server.SendTimeout,
			Logger:    log,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		gate = g
	}

	sender := opts.Sender
	if sender == nil {
		sender = transport.NewHTTPSender(cfg.Server.SendTimeout)
	}

	d, err := router.NewDispatcher(router.DispatcherOpts{
		Config:     cfg,
		Directory:  stores.Agents,
		Sender:     sender,
		Completer:  completer,
		Improver:   improver,
		Gate:       gate,
		Tools:      invoker,
		ConvLog:    conv,
		OnEnvelope: opts.OnEnvelope,
		Logger:     log,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher = d

	log.Debug().
		Str("agent", cfg.Agent.ID).
		Str("llm", cfg.LLM.Provider).
		Bool("payment", gate != nil).
		Bool("tools", invoker != nil).
		Msg("agent: assembled")
	return a, nil
}

// openConvLog opens the conversation sink. The db sink shares the SQL
// directory's settings and migrates its table on open.
func openConvLog(cfg *config.Config, a *agent) (convlog.Logger, error) {
	var gormDB *gorm.DB
	if cfg.Log.Sink == "db" {
		var err error
		gormDB, err = db.Open(cfg.Directory)
		if err != nil {
			return nil, fmt.Errorf("convlog: %w", err)
		}
		a.closers = append(a.closers, func() error {
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, err
		}
	}
	return convlog.Open(cfg.Log, gormDB)
}

// Close releases everything buildAgent opened.
func (a *agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadConfig wraps config.Load with the CLI's error prefix.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
