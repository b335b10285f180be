package bot

import (
	"log/slog"
	"strings"
	"sync"

	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/clearity-bot/internal/bot/handlers"
	"github.com/Proton-105/clearity-bot/internal/bot/keyboard"
)

// Router resolves every update to exactly one handler and runs it through the middleware chain.
//
// Resolution order: callbacks by unique (then longest registered prefix), slash commands by
// name, free text by the chat's current stage. Anything left over goes to the default handler.
type Router struct {
	mu         sync.RWMutex
	commands   map[string]handlers.Handler
	callbacks  map[string]handlers.CallbackHandler
	chain      []handlers.Middleware
	fallback   handlers.Handler
	dispatcher *Dispatcher
	log        *slog.Logger
}

// NewRouter builds a Router. dispatcher may be nil when no stage handlers exist.
func NewRouter(dispatcher *Dispatcher, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}

	return &Router{
		commands:   map[string]handlers.Handler{},
		callbacks:  map[string]handlers.CallbackHandler{},
		dispatcher: dispatcher,
		log:        log,
	}
}

// RegisterCommand binds a slash command such as "/start".
func (r *Router) RegisterCommand(cmd string, h handlers.Handler) {
	r.mu.Lock()
	r.commands[cmd] = h
	r.mu.Unlock()
}

// RegisterCallback binds a callback unique. The unique also acts as a prefix for undecodable data.
func (r *Router) RegisterCallback(unique string, h handlers.CallbackHandler) {
	r.mu.Lock()
	r.callbacks[unique] = h
	r.mu.Unlock()
}

// Use appends mw. Middlewares registered first run outermost.
func (r *Router) Use(mw handlers.Middleware) {
	r.mu.Lock()
	r.chain = append(r.chain, mw)
	r.mu.Unlock()
}

// SetDefault sets the handler for updates nothing else claims.
func (r *Router) SetDefault(h handlers.Handler) {
	r.mu.Lock()
	r.fallback = h
	r.mu.Unlock()
}

// Route handles one update.
func (r *Router) Route(c telebot.Context) error {
	if c == nil {
		return nil
	}

	route, h := r.resolve(c)
	if h == nil {
		return nil
	}
	r.log.Debug("update routed", slog.String("route", route))

	return r.wrap(h)(c)
}

func (r *Router) resolve(c telebot.Context) (string, handlers.Handler) {
	if cb := c.Callback(); cb != nil {
		if h := r.callbackHandler(cb.Data); h != nil {
			return "callback", handlers.Handler(h)
		}
		r.log.Info("no callback handler found", slog.String("data", cb.Data))
		return "default", r.defaultHandler()
	}

	text := strings.TrimSpace(c.Text())
	if strings.HasPrefix(text, "/") {
		r.mu.RLock()
		h := r.commands[commandName(text)]
		r.mu.RUnlock()
		if h != nil {
			return "command", h
		}
		return "default", r.defaultHandler()
	}

	if r.dispatcher != nil {
		if h := r.dispatcher.Resolve(c); h != nil {
			return "stage", h
		}
	}

	return "default", r.defaultHandler()
}

func (r *Router) callbackHandler(data string) handlers.CallbackHandler {
	unique, _, err := keyboard.DecodeCallback(data)
	if err != nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if h, ok := r.callbacks[unique]; ok {
		return h
	}

	var match string
	for prefix := range r.callbacks {
		if strings.HasPrefix(data, prefix) && len(prefix) > len(match) {
			match = prefix
		}
	}
	if match == "" {
		return nil
	}
	return r.callbacks[match]
}

func (r *Router) defaultHandler() handlers.Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}

func (r *Router) wrap(h handlers.Handler) handlers.Handler {
	r.mu.RLock()
	chain := append([]handlers.Middleware(nil), r.chain...)
	r.mu.RUnlock()

	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i](h)
	}
	return h
}
