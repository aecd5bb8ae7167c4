// Package session implements the interactive terminal session core: one
// SessionHandle driving a message channel to the shell broker, with
// reconnection, resize flow control, heartbeats and second-factor challenge
// handling layered on top.
//
// All state transitions run on a single event-loop goroutine. Channel events,
// timer fires and user commands are posted to one events channel and handled
// serially; timers are stamped with a per-kind token so a stale fire can be
// recognized and discarded.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Termix-SSH/Termix-sub004/internal/protocol"
)

const (
	connectTimeout       = 10 * time.Second
	heartbeatInterval    = 30 * time.Second
	resizeDebounce       = 140 * time.Millisecond
	reconnectBackoffBase = 2 * time.Second
	maxReconnectAttempts = 3
)

// Screen is the terminal screen-buffer abstraction the session renders into.
// Write must preserve byte order; ANSI interpretation is the buffer's
// concern. Clear is called whenever the remote shell the user is looking at
// is no longer the live one.
type Screen interface {
	Write(p []byte) (n int, err error)
	Clear()
	Refresh()
	Focus()
}

// ActivityFunc records the one-time "session started" activity event. The
// manager guarantees at most one invocation per session.
type ActivityFunc func(sessionID string)

// Config wires a Manager to its collaborators.
type Config struct {
	// Dialer opens a Channel per connection attempt. Required.
	Dialer Dialer
	// Host describes the target host; validated at construction and never
	// mutated mid-session.
	Host protocol.HostDescriptor
	// Geometry is the initial terminal grid. Zero means 80x24.
	Geometry protocol.Geometry
	// InitialPath and ExecuteCommand are forwarded in the connect request.
	InitialPath    string
	ExecuteCommand string
	// Screen renders inbound data. Required.
	Screen Screen
	// Notifier receives user-facing connectivity notices. Optional.
	Notifier Notifier
	// Activity records the session-started event. Optional.
	Activity ActivityFunc
	// OnClose is invoked exactly once when the session terminates and cannot
	// be resumed. Optional.
	OnClose func(reason CloseReason)
	// Visible is the initial visibility reported by the hosting UI. The
	// session opens only while visible.
	Visible bool

	Logger zerolog.Logger
}

type timerKind int

const (
	timerConnect timerKind = iota
	timerHeartbeat
	timerBackoff
	timerDebounce
	timerKindCount
)

type event interface{}

type (
	evSetVisible      struct{ visible bool }
	evInput           struct{ data string }
	evResize          struct{ g protocol.Geometry }
	evSubmitCode      struct{ code string }
	evCancelChallenge struct{}
	evClose           struct{}
	evDialDone        struct {
		gen uint64
		ch  Channel
		err error
	}
	evMessage struct {
		gen uint64
		msg protocol.Message
	}
	evChannelClosed struct {
		gen uint64
		err error
	}
	evTimer struct {
		kind  timerKind
		token uint64
	}
)

// Manager owns one SessionHandle: the channel, its state machine, and every
// timer attached to it.
type Manager struct {
	cfg       Config
	sessionID string
	log       zerolog.Logger

	events chan event
	done   chan struct{}

	// Loop-owned state. Nothing below is touched off the event loop except
	// through the mirror guarded by mu.
	state             ChannelState
	ch                Channel
	gen               uint64 // channel generation; stale dial/pump events are dropped
	reconnectAttempt  int
	reconnecting      bool
	suppressReconnect bool
	visible           bool
	errorReported     bool
	activityLogged    bool
	challenge         challengeState

	currentGeometry protocol.Geometry
	pendingGeometry *protocol.Geometry
	lastAcked       protocol.Geometry

	timers    [timerKindCount]*time.Timer
	timerTok  [timerKindCount]uint64
	timerSeen [timerKindCount]uint64

	// Tunables, overridden in tests.
	connectTimeout    time.Duration
	heartbeatInterval time.Duration
	resizeDebounce    time.Duration
	backoffBase       time.Duration

	mu            sync.Mutex
	mirrorState   ChannelState
	mirrorAttempt int

	closeOnce sync.Once
}

// NewManager validates the configuration and builds a Manager. Start must be
// called before any other method.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("session: config missing dialer")
	}
	if cfg.Screen == nil {
		return nil, fmt.Errorf("session: config missing screen")
	}
	if err := cfg.Host.Validate(); err != nil {
		return nil, err
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NopNotifier{}
	}
	g := cfg.Geometry
	if g.Cols <= 0 || g.Rows <= 0 {
		g = protocol.Geometry{Cols: 80, Rows: 24}
	}
	id := uuid.NewString()
	return &Manager{
		cfg:               cfg,
		sessionID:         id,
		log:               cfg.Logger.With().Str("session_id", id).Logger(),
		events:            make(chan event, 256),
		done:              make(chan struct{}),
		state:             StateIdle,
		visible:           cfg.Visible,
		currentGeometry:   g,
		connectTimeout:    connectTimeout,
		heartbeatInterval: heartbeatInterval,
		resizeDebounce:    resizeDebounce,
		backoffBase:       reconnectBackoffBase,
	}, nil
}

// SessionID returns the stable identifier of this session handle.
func (m *Manager) SessionID() string { return m.sessionID }

// Start launches the event loop and, when the gate permits, the first
// connection attempt.
func (m *Manager) Start() {
	go m.run()
	m.post(evSetVisible{visible: m.visible})
}

// SetVisible reports a show/hide transition from the hosting UI.
func (m *Manager) SetVisible(visible bool) { m.post(evSetVisible{visible: visible}) }

// Input forwards local keystroke or paste bytes to the remote shell.
func (m *Manager) Input(data string) { m.post(evInput{data: data}) }

// NotifyResize reports a local geometry change. Calls are debounced; only the
// most recent geometry inside a debounce window is sent, and a geometry equal
// to the last acknowledged one produces no traffic at all.
func (m *Manager) NotifyResize(cols, rows int) {
	m.post(evResize{g: protocol.Geometry{Cols: cols, Rows: rows}})
}

// SubmitTOTP answers an outstanding second-factor challenge.
func (m *Manager) SubmitTOTP(code string) { m.post(evSubmitCode{code: code}) }

// CancelChallenge abandons an outstanding second-factor challenge and closes
// the session.
func (m *Manager) CancelChallenge() { m.post(evCancelChallenge{}) }

// Close tears the session down: reconnection is suppressed, all timers are
// cancelled, then the channel is closed. Safe to call more than once.
func (m *Manager) Close() { m.post(evClose{}) }

// Done is closed when the session has fully terminated.
func (m *Manager) Done() <-chan struct{} { return m.done }

// State returns the current channel state.
func (m *Manager) State() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrorState
}

// ReconnectAttempt returns the current retry counter. It reads 0 after any
// confirmed connection.
func (m *Manager) ReconnectAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mirrorAttempt
}

func (m *Manager) post(ev event) {
	select {
	case <-m.done:
	case m.events <- ev:
	}
}

func (m *Manager) run() {
	for {
		select {
		case <-m.done:
			return
		case ev := <-m.events:
			m.dispatch(ev)
			if m.state == StateClosed {
				return
			}
		}
	}
}

func (m *Manager) dispatch(ev event) {
	switch e := ev.(type) {
	case evSetVisible:
		m.handleVisibility(e.visible)
	case evInput:
		m.handleInput(e.data)
	case evResize:
		m.handleResizeRequest(e.g)
	case evSubmitCode:
		m.handleSubmitCode(e.code)
	case evCancelChallenge:
		m.handleCancelChallenge()
	case evClose:
		m.closeSession(ReasonUserClosed)
	case evDialDone:
		m.handleDialDone(e)
	case evMessage:
		m.handleMessage(e)
	case evChannelClosed:
		m.handleChannelClosed(e)
	case evTimer:
		m.handleTimer(e)
	}
}

// ─── gate ───────────────────────────────────────────────

func (m *Manager) handleVisibility(visible bool) {
	m.visible = visible
	if !visible {
		// Hidden sessions stay connected but never open or retry.
		return
	}
	switch m.state {
	case StateConnected:
		// Re-fit and re-focus only; never a second connection.
		m.cfg.Screen.Refresh()
		m.cfg.Screen.Focus()
		m.handleResizeRequest(m.currentGeometry)
	case StateIdle:
		if !m.suppressReconnect && !m.reconnecting {
			m.openChannel()
		}
	}
}

// ─── connection attempts ────────────────────────────────

func (m *Manager) openChannel() {
	m.gen++
	gen := m.gen
	m.setState(StateOpening)
	m.errorReported = false
	if m.reconnectAttempt == 0 {
		m.notify(Notice{Code: NoticeConnecting, Message: fmt.Sprintf("connecting to %s", m.cfg.Host.Address)})
	}
	m.armTimer(timerConnect, m.connectTimeout)

	dialer := m.cfg.Dialer
	go func() {
		ch, err := dialer.Dial(context.Background())
		m.post(evDialDone{gen: gen, ch: ch, err: err})
	}()
}

func (m *Manager) handleDialDone(e evDialDone) {
	if e.gen != m.gen {
		if e.ch != nil {
			_ = e.ch.Close()
		}
		return
	}
	if e.err != nil {
		m.log.Warn().Err(e.err).Msg("channel dial failed")
		m.disarmTimer(timerConnect)
		m.setState(StateIdle)
		m.notify(Notice{Code: NoticeError, Message: fmt.Sprintf("connection failed: %v", e.err)})
		m.errorReported = true
		m.maybeReconnect()
		return
	}

	m.ch = e.ch
	m.setState(StateAwaitingRemoteConfirm)
	go m.readPump(e.gen, e.ch)

	req := protocol.ConnectRequest{
		Cols:           m.currentGeometry.Cols,
		Rows:           m.currentGeometry.Rows,
		HostDescriptor: m.cfg.Host,
		InitialPath:    m.cfg.InitialPath,
		ExecuteCommand: m.cfg.ExecuteCommand,
	}
	// A send failure here surfaces through the read pump as a channel close.
	if err := e.ch.Send(protocol.NewConnect(req)); err == nil {
		// The connect request carried the current geometry; an equal resize
		// notification later must produce no traffic.
		m.lastAcked = m.currentGeometry
	}
}

func (m *Manager) readPump(gen uint64, ch Channel) {
	for {
		msg, err := ch.Receive()
		if err != nil {
			m.post(evChannelClosed{gen: gen, err: err})
			return
		}
		m.post(evMessage{gen: gen, msg: msg})
	}
}

// ─── inbound messages ───────────────────────────────────

func (m *Manager) handleMessage(e evMessage) {
	if e.gen != m.gen {
		return
	}
	switch e.msg.Type {
	case protocol.TypeData:
		text, err := e.msg.Text()
		if err != nil {
			m.reportParseFailure(err)
			return
		}
		_, _ = m.cfg.Screen.Write([]byte(text))
	case protocol.TypeConnected:
		m.handleConnected()
	case protocol.TypeDisconnected:
		m.handleRemoteDisconnect()
	case protocol.TypeError:
		text, err := e.msg.ErrorMessage()
		if err != nil {
			m.reportParseFailure(err)
			return
		}
		m.handleRemoteError(text)
	case protocol.TypeTOTPRequired:
		prompt, err := e.msg.TOTPPrompt()
		if err != nil {
			m.reportParseFailure(err)
			return
		}
		m.handleChallenge(prompt)
	default:
		m.reportParseFailure(fmt.Errorf("unknown message type %q", e.msg.Type))
	}
}

func (m *Manager) handleConnected() {
	if m.state == StateConnected {
		return
	}
	m.disarmTimer(timerConnect)
	m.setState(StateConnected)
	m.challenge = challengeDormant
	m.reconnecting = false

	wasRetry := m.reconnectAttempt > 0
	m.setAttempt(0)

	if wasRetry {
		m.notify(Notice{Code: NoticeReconnected, Message: "reconnected"})
		// The remote terminal is fresh; re-issue the current geometry even if
		// it matches what the previous channel acknowledged.
		m.sendResize(m.currentGeometry)
	} else {
		m.notify(Notice{Code: NoticeConnected, Message: "connected"})
	}

	if !m.activityLogged && m.cfg.Activity != nil {
		m.activityLogged = true
		go m.cfg.Activity(m.sessionID)
	}

	m.cfg.Screen.Focus()
	m.armTimer(timerHeartbeat, m.heartbeatInterval)
	m.log.Info().Str("host", m.cfg.Host.Address).Msg("session connected")
}

func (m *Manager) handleRemoteDisconnect() {
	// Remote-initiated clean close: terminal, never retried.
	m.notify(Notice{Code: NoticeRemoteDisconnected, Message: "remote closed the session"})
	m.errorReported = true
	m.closeSession(ReasonRemoteDisconnect)
}

func (m *Manager) handleRemoteError(message string) {
	switch protocol.ClassifyError(message) {
	case protocol.ErrorClassAuth:
		m.notify(Notice{Code: NoticeAuthFailed, Message: message})
		m.errorReported = true
		m.closeSession(ReasonAuthFailed)
	case protocol.ErrorClassConnectivity:
		m.notify(Notice{Code: NoticeError, Message: message})
		m.errorReported = true
		m.teardownChannel()
		m.cfg.Screen.Clear()
		m.maybeReconnect()
	default:
		// Non-fatal notice; channel state is untouched.
		m.notify(Notice{Code: NoticeError, Message: message})
	}
}

func (m *Manager) reportParseFailure(err error) {
	m.log.Warn().Err(err).Msg("malformed inbound message")
	m.notify(Notice{Code: NoticeError, Message: fmt.Sprintf("malformed message from broker: %v", err)})
}

func (m *Manager) handleChannelClosed(e evChannelClosed) {
	if e.gen != m.gen {
		return
	}
	if m.state == StateClosing || m.state == StateClosed {
		return
	}
	m.log.Warn().Err(e.err).Msg("channel closed unexpectedly")
	if m.challenge == challengeAwaitingCode {
		// Challenge abandoned by the remote side; resume normal failure flow.
		m.challenge = challengeDormant
	}
	m.teardownChannel()
	m.cfg.Screen.Clear()
	m.maybeReconnect()
}

// teardownChannel closes the current channel and invalidates every event
// still in flight for it. It does not touch the backoff timer.
func (m *Manager) teardownChannel() {
	m.gen++
	m.disarmTimer(timerConnect)
	m.disarmTimer(timerHeartbeat)
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	m.setState(StateIdle)
}

// ─── outbound ───────────────────────────────────────────

func (m *Manager) handleInput(data string) {
	if m.state != StateConnected || m.ch == nil {
		return
	}
	_ = m.ch.Send(protocol.NewInput(data))
}

// ─── timers ─────────────────────────────────────────────

func (m *Manager) armTimer(kind timerKind, d time.Duration) {
	m.timerTok[kind]++
	token := m.timerTok[kind]
	if t := m.timers[kind]; t != nil {
		t.Stop()
	}
	m.timers[kind] = time.AfterFunc(d, func() {
		m.post(evTimer{kind: kind, token: token})
	})
}

func (m *Manager) disarmTimer(kind timerKind) {
	m.timerTok[kind]++
	if t := m.timers[kind]; t != nil {
		t.Stop()
		m.timers[kind] = nil
	}
}

func (m *Manager) disarmAllTimers() {
	for k := timerKind(0); k < timerKindCount; k++ {
		m.disarmTimer(k)
	}
}

func (m *Manager) handleTimer(e evTimer) {
	if e.token != m.timerTok[e.kind] {
		return // stale fire; a newer arm or a disarm superseded it
	}
	switch e.kind {
	case timerConnect:
		m.handleConnectTimeout()
	case timerHeartbeat:
		m.handleHeartbeat()
	case timerBackoff:
		m.handleBackoffFired()
	case timerDebounce:
		m.handleDebounceFired()
	}
}

func (m *Manager) handleConnectTimeout() {
	if m.state != StateOpening && m.state != StateAwaitingRemoteConfirm {
		return
	}
	m.log.Warn().Int("attempt", m.reconnectAttempt).Msg("connection establishment timed out")
	m.teardownChannel()
	m.cfg.Screen.Clear()
	m.notify(Notice{Code: NoticeConnectTimeout, Message: "connection timed out"})
	m.errorReported = true
	if m.reconnectAttempt > 0 {
		// Timeout during a retry feeds the reconnection controller.
		m.maybeReconnect()
		return
	}
	// First-time connection timeout is terminal: retrying a target that never
	// answered would loop silently forever.
	m.closeSession(ReasonConnectTimeout)
}

func (m *Manager) handleHeartbeat() {
	if m.state != StateConnected || m.ch == nil {
		return
	}
	// Heartbeat failures are detected via the read pump's close event, not a
	// separate timeout.
	_ = m.ch.Send(protocol.NewPing())
	m.armTimer(timerHeartbeat, m.heartbeatInterval)
}

// ─── teardown ───────────────────────────────────────────

// closeSession is the single exit point for every fatal outcome. Ordering
// matters: reconnection is suppressed and timers cancelled before the channel
// closes, so the close event cannot re-trigger a retry.
func (m *Manager) closeSession(reason CloseReason) {
	if m.state == StateClosed {
		return
	}
	m.setState(StateClosing)
	m.suppressReconnect = true
	m.reconnecting = false
	m.disarmAllTimers()
	m.gen++
	if m.ch != nil {
		_ = m.ch.Close()
		m.ch = nil
	}
	m.setState(StateClosed)
	m.log.Info().Str("reason", reason.String()).Msg("session closed")
	m.closeOnce.Do(func() {
		close(m.done)
		if m.cfg.OnClose != nil {
			m.cfg.OnClose(reason)
		}
	})
}

// ─── mirrors ────────────────────────────────────────────

func (m *Manager) setState(s ChannelState) {
	m.state = s
	m.mu.Lock()
	m.mirrorState = s
	m.mu.Unlock()
}

func (m *Manager) setAttempt(n int) {
	m.reconnectAttempt = n
	m.mu.Lock()
	m.mirrorAttempt = n
	m.mu.Unlock()
}

func (m *Manager) notify(n Notice) {
	m.cfg.Notifier.Notify(n)
}
