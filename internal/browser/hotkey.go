package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/executor"
	"github.com/xkilldash9x/resolve-agent/internal/humanoid"
)

const stopBinding = "__resolveAgentStop"

// muteGrace keeps the stop keys muted briefly after a muted dispatch, since
// the binding event can arrive after the key event's CDP reply.
const muteGrace = 250 * time.Millisecond

const stopListenerJS = `(() => {
	if (window.__resolveAgentHotkeysArmed) return;
	window.__resolveAgentHotkeysArmed = true;
	const keys = %s;
	window.addEventListener('keydown', (e) => {
		if (keys.includes(e.key) && typeof window.%s === 'function') {
			window.%s(e.key);
		}
	}, true);
})();`

// Hotkeys listens for the stop keys on the tab through a runtime binding.
type Hotkeys struct {
	logger *zap.Logger
	tabCtx context.Context
	run    runFunc
	keys   []string

	mu       sync.Mutex
	cancel   context.CancelFunc
	scriptID page.ScriptIdentifier

	// cbMu is separate from mu: handle runs on the CDP event loop and must
	// not wait on a CDP round trip made under mu.
	cbMu       sync.Mutex
	onStop     func()
	muted      int
	mutedUntil time.Time
	now        func() time.Time
}

var (
	_ executor.HotkeyPort  = (*Hotkeys)(nil)
	_ executor.HotkeyMuter = (*Hotkeys)(nil)
)

func newHotkeys(logger *zap.Logger, tabCtx context.Context, run runFunc, keys []string) *Hotkeys {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			names = append(names, humanoid.KeyName(strings.ToLower(k)))
		}
	}
	return &Hotkeys{logger: logger.Named("hotkeys"), tabCtx: tabCtx, run: run, keys: names, now: time.Now}
}

// Keys returns the DOM key values that trigger a stop.
func (h *Hotkeys) Keys() []string { return append([]string(nil), h.keys...) }

// Start installs the listener on the current and future documents.
func (h *Hotkeys) Start(onStop func()) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		return fmt.Errorf("browser: stop hotkey already started")
	}

	script, err := listenerScript(h.keys)
	if err != nil {
		return err
	}

	listenCtx, cancel := context.WithCancel(h.tabCtx)
	h.setOnStop(onStop)
	chromedp.ListenTarget(listenCtx, h.handle)

	ctx, cancelOp := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelOp()
	err = h.run(ctx,
		runtime.AddBinding(stopBinding),
		chromedp.ActionFunc(func(ctx context.Context) error {
			id, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			h.scriptID = id
			return err
		}),
		chromedp.Evaluate(script, nil),
	)
	if err != nil {
		cancel()
		h.setOnStop(nil)
		return fmt.Errorf("browser: install stop hotkey: %w", err)
	}
	h.cancel = cancel
	h.logger.Info("Stop hotkey armed.", zap.Strings("keys", h.keys))
	return nil
}

// Close removes the binding and stops delivering events.
func (h *Hotkeys) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	h.cancel = nil
	h.setOnStop(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	actions := []chromedp.Action{runtime.RemoveBinding(stopBinding)}
	if h.scriptID != "" {
		actions = append(actions, page.RemoveScriptToEvaluateOnNewDocument(h.scriptID))
	}
	if err := h.run(ctx, actions...); err != nil {
		h.logger.Debug("Could not remove stop hotkey binding.", zap.Error(err))
	}
	return nil
}

func (h *Hotkeys) handle(ev any) {
	call, ok := ev.(*runtime.EventBindingCalled)
	if !ok || call.Name != stopBinding {
		return
	}
	h.cbMu.Lock()
	onStop := h.onStop
	muted := h.muted > 0 || h.now().Before(h.mutedUntil)
	h.cbMu.Unlock()
	if onStop == nil {
		return
	}
	if muted {
		h.logger.Debug("Stop key ignored during a keypress action.", zap.String("key", call.Payload))
		return
	}
	h.logger.Debug("Stop key received.", zap.String("key", call.Payload))
	onStop()
}

// Mute ignores stop keys until restore is called and for muteGrace after.
func (h *Hotkeys) Mute() (restore func()) {
	h.cbMu.Lock()
	h.muted++
	h.cbMu.Unlock()
	return sync.OnceFunc(func() {
		h.cbMu.Lock()
		defer h.cbMu.Unlock()
		h.muted--
		h.mutedUntil = h.now().Add(muteGrace)
	})
}

func (h *Hotkeys) setOnStop(fn func()) {
	h.cbMu.Lock()
	defer h.cbMu.Unlock()
	h.onStop = fn
}

func listenerScript(keys []string) (string, error) {
	encoded, err := json.Marshal(keys)
	if err != nil {
		return "", fmt.Errorf("browser: encode stop keys: %w", err)
	}
	return fmt.Sprintf(stopListenerJS, encoded, stopBinding, stopBinding), nil
}
