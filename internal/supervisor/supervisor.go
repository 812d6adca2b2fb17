// Package supervisor owns the live configuration pointer and orchestrates
// the RPC ingress and IRC sessions under one process lifetime (spec §4.8,
// component C8): signal handling, config reload diffing, graceful
// shutdown, and restart.
package supervisor

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/errors"
	"github.com/kgbnotify/kgb/internal/fanout"
	"github.com/kgbnotify/kgb/internal/irc"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/rpcserver"
	"github.com/kgbnotify/kgb/internal/server"
)

const (
	shutdownFlushWait = 2 * time.Second
	// respawnDelay mirrors the 3s grace period §4.7 specifies between
	// tearing down a session with a changed identity and reconnecting it.
	respawnDelay = 3 * time.Second
)

// Supervisor owns the live *config.Config pointer, the RPC listener, and
// one irc.Session per configured network (§3 "Ownership").
type Supervisor struct {
	configPath string
	log        *logger.Logger

	cfg atomic.Pointer[config.Config]

	mu            sync.Mutex
	sessions      map[string]*irc.Session
	sessionCancel map[string]context.CancelFunc
	sessionWG     sync.WaitGroup
	router        *fanout.Router

	// runCtx is the root context live sessions are derived from once Run has
	// started; sessions created later by reload (add/respawn) are children
	// of this context rather than context.Background, so a supervisor
	// shutdown reaches them too.
	runCtx context.Context

	httpServer *server.Server

	shuttingDown atomic.Bool
}

// New loads the initial configuration and builds a Supervisor ready to Run.
func New(configPath string, log *logger.Logger) (*Supervisor, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.ConfigError(err)
	}

	s := &Supervisor{
		configPath:    configPath,
		log:           log,
		sessions:      make(map[string]*irc.Session),
		sessionCancel: make(map[string]context.CancelFunc),
	}
	s.cfg.Store(cfg)
	s.router = fanout.NewRouter(func(repoID string) []string {
		return s.currentConfig().ChannelsForRepo(repoID)
	})
	for name, netCfg := range cfg.Networks {
		s.sessions[name] = irc.NewSession(name, netCfg, cfg.Admins, cfg.SmartAnswers, config.SmartAnswersForNetwork(cfg, name), log, s.router)
	}
	return s, nil
}

func (s *Supervisor) currentConfig() *config.Config {
	return s.cfg.Load()
}

// TotalQueueDepth implements rpcserver.Backlog by summing every session's
// pending-send depth (§9 Open Question (c)).
func (s *Supervisor) TotalQueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, sess := range s.sessions {
		total += sess.QueueDepth()
	}
	return total
}

// Deliver implements rpcserver.Dispatcher by handing lines to the session
// that owns channel.
func (s *Supervisor) Deliver(channel string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.currentConfig()
	network := ""
	if ch, ok := cfg.Channels[channel]; ok {
		network = ch.Network
	}
	sess, ok := s.sessions[network]
	if !ok {
		return errors.InternalError(nil)
	}
	sess.Enqueue(channel, lines)
	return nil
}

// Run starts the RPC listener, every IRC session, and the signal/fsnotify
// watchers, blocking until the context is cancelled or a fatal signal is
// received.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	s.runCtx = gctx

	s.mu.Lock()
	for name, sess := range s.sessions {
		s.startSessionLocked(name, sess)
	}
	s.mu.Unlock()

	g.Go(func() error { return s.runRPC(gctx) })
	g.Go(func() error { return s.watchSignals(gctx, cancel) })
	g.Go(func() error { return s.watchConfigFile(gctx) })

	err := g.Wait()
	s.sessionWG.Wait()
	return err
}

// startSessionLocked launches sess under a context derived from s.runCtx,
// tracking its cancel func so a later respawn or network removal can tear
// it down without affecting any other session or the RPC/signal/reload
// goroutines (§4.7 "tear down and respawn"). Callers must hold s.mu.
func (s *Supervisor) startSessionLocked(name string, sess *irc.Session) {
	sessCtx, cancel := context.WithCancel(s.runCtx)
	s.sessionCancel[name] = cancel
	s.sessionWG.Add(1)
	go func() {
		defer s.sessionWG.Done()
		if err := sess.Run(sessCtx); err != nil && sessCtx.Err() == nil {
			s.log.Error("irc session exited unexpectedly", err)
		}
	}()
}

// stopSessionLocked cancels the running session registered under name, if
// any, and forgets its cancel func. Callers must hold s.mu.
func (s *Supervisor) stopSessionLocked(name string) {
	if cancel, ok := s.sessionCancel[name]; ok {
		cancel()
		delete(s.sessionCancel, name)
	}
}

func (s *Supervisor) runRPC(ctx context.Context) error {
	cfg := s.currentConfig()
	handler := rpcserver.New(s.currentConfig, s, s, s.router, s.log)

	addr := cfg.RPCAddr + ":" + strconv.Itoa(cfg.RPCPort)
	s.httpServer = server.New(addr, handler, s.log)
	s.httpServer.Start()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushWait)
	defer cancel()
	return s.httpServer.Shutdown(shutCtx)
}

// watchSignals implements §4.8: INT/TERM graceful shutdown (a second
// signal forces immediate exit), QUIT self-exec restart, HUP config reload.
func (s *Supervisor) watchSignals(ctx context.Context, cancel context.CancelFunc) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				if s.shuttingDown.Swap(true) {
					os.Exit(1)
				}
				s.log.Info("shutting down gracefully")
				cancel()
			case syscall.SIGQUIT:
				s.restart()
			case syscall.SIGHUP:
				s.reload()
			}
		}
	}
}

// restart implements §4.8 "QUIT: restart" by exec-replacing the process
// image so the supervising init can restart without a fork race.
func (s *Supervisor) restart() {
	s.log.Info("restarting: exec-replacing process image")
	exe, err := os.Executable()
	if err != nil {
		s.log.Error("restart failed: cannot resolve executable", err)
		return
	}
	args := []string{exe, "--foreground", "--config", s.configPath}
	if err := syscall.Exec(exe, args, os.Environ()); err != nil {
		s.log.Error("restart failed: exec failed", err)
	}
}

// reload implements §4.8 "HUP: config reload".
func (s *Supervisor) reload() {
	newCfg, err := config.Load(s.configPath)
	if err != nil {
		s.log.Error("config reload failed, keeping old config", errors.ConfigError(err))
		return
	}

	oldCfg := s.currentConfig()
	if config.RPCBindChanged(oldCfg, newCfg) {
		s.log.Info("RPC bind changed on reload, forcing restart")
		s.restart()
		return
	}

	s.cfg.Store(newCfg)

	diffs := config.DiffNetworks(oldCfg, newCfg)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range diffs {
		sess, exists := s.sessions[d.Name]
		switch {
		case len(d.Added) > 0:
			netCfg := newCfg.Networks[d.Name]
			newSess := irc.NewSession(d.Name, netCfg, newCfg.Admins, newCfg.SmartAnswers, config.SmartAnswersForNetwork(newCfg, d.Name), s.log, s.router)
			s.sessions[d.Name] = newSess
			s.startSessionLocked(d.Name, newSess)
		case len(d.Removed) > 0:
			s.stopSessionLocked(d.Name)
			delete(s.sessions, d.Name)
		case exists && d.Respawn:
			s.stopSessionLocked(d.Name)
			time.AfterFunc(respawnDelay, func() {
				netCfg := newCfg.Networks[d.Name]
				newSess := irc.NewSession(d.Name, netCfg, newCfg.Admins, newCfg.SmartAnswers, config.SmartAnswersForNetwork(newCfg, d.Name), s.log, s.router)
				s.mu.Lock()
				s.sessions[d.Name] = newSess
				s.startSessionLocked(d.Name, newSess)
				s.mu.Unlock()
			})
		case exists:
			sess.SetAdmins(newCfg.Admins)
			sess.SetSmartAnswers(newCfg.SmartAnswers, config.SmartAnswersForNetwork(newCfg, d.Name))
			sess.Reconcile(config.ChannelsOnNetworkPublic(newCfg, d.Name))
		}
	}
}

// watchConfigFile is a secondary reload trigger: fsnotify on the config
// file's directory catches editor saves that replace-via-rename, which a
// bare HUP from an init system might miss.
func (s *Supervisor) watchConfigFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warnf("fsnotify unavailable, relying on HUP only: %v", err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()

	dir := dirOf(s.configPath)
	if err := watcher.Add(dir); err != nil {
		s.log.Warnf("fsnotify watch on %s failed: %v", dir, err)
		<-ctx.Done()
		return ctx.Err()
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name == s.configPath && (ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0) {
				debounce.Reset(250 * time.Millisecond)
			}
		case <-debounce.C:
			s.reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warnf("fsnotify error: %v", err)
		}
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

