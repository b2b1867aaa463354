package svcmgr

import (
	"context"

	"github.com/kardianos/service"
	"github.com/rs/zerolog"
)

// hostedProgram adapts the controller loop to the service host's
// start/stop callbacks.
type hostedProgram struct {
	log    zerolog.Logger
	run    func(ctx context.Context) error
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *hostedProgram) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		if err := p.run(ctx); err != nil {
			p.log.Error().Err(err).Msg("hosted session ended with error")
		}
	}()
	return nil
}

func (p *hostedProgram) Stop(service.Service) error {
	p.cancel()
	<-p.done
	return nil
}

// RunHosted runs the controller loop under OS service control. Called from
// the agent wrapper when launched by the service manager; blocks until the
// service is stopped.
func RunHosted(log zerolog.Logger, run func(ctx context.Context) error) error {
	prg := &hostedProgram{log: log, run: run}
	svc, err := service.New(prg, &service.Config{
		Name:        ServiceName,
		DisplayName: "TraceRing Rotating Capture",
		Description: "Maintains a bounded, continuously rotating set of network trace files.",
	})
	if err != nil {
		return err
	}
	return svc.Run()
}
