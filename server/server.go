// Package server exposes the production inference endpoint: move requests
// with opening-book consults and dynamic think-time budgeting, Swap2
// helpers, health, and a websocket telemetry feed.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fiverow/fiverow/book"
	"github.com/fiverow/fiverow/game"
	"github.com/fiverow/fiverow/inference"
	"github.com/fiverow/fiverow/mcts"
	"github.com/fiverow/fiverow/model"
	"github.com/fiverow/fiverow/store"
	"github.com/fiverow/fiverow/swap2"
)

// EvaluatorFactory builds the network backend for a loaded model.
type EvaluatorFactory func(m *model.Model) (inference.Evaluator, error)

// Config wires one server instance.
type Config struct {
	BoardSize          int
	ModelDir           string
	ModelURL           string
	ModelCheckInterval time.Duration
	BookPath           string
	BookMoveLimit      int
	Search             mcts.Config
}

type Server struct {
	cfg     Config
	factory EvaluatorFactory
	log     zerolog.Logger
	hub     *WatchHub

	// searchMu serializes searches; the engine's RNG is not safe for
	// concurrent use and request latency dominates anyway.
	searchMu sync.Mutex

	mu      sync.RWMutex
	mdl     *model.Model
	ev      inference.Evaluator
	engine  *mcts.Engine
	lastErr string

	fetcher model.RemoteFetcher
	openBk  *book.Book
}

// New loads the model (and optionally the opening book) and builds the
// serving engine. A missing model leaves the server up but unhealthy.
func New(cfg Config, factory EvaluatorFactory, log zerolog.Logger) *Server {
	if cfg.BookMoveLimit == 0 {
		cfg.BookMoveLimit = 12
	}
	s := &Server{cfg: cfg, factory: factory, log: log, hub: NewWatchHub()}

	if err := s.reloadModel(); err != nil {
		s.lastErr = err.Error()
		log.Error().Err(err).Msg("initial model load failed")
	}

	if cfg.BookPath != "" {
		bk, skipped, err := book.Load(cfg.BookPath, cfg.BoardSize)
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.BookPath).Msg("opening book unavailable")
		} else {
			s.openBk = bk
			log.Info().Int("entries", bk.Len()).Int("skipped", skipped).Msg("opening book loaded")
		}
	}
	return s
}

func (s *Server) reloadModel() error {
	m, err := model.Load(s.cfg.ModelDir)
	if err != nil {
		return err
	}
	ev, err := s.factory(m)
	if err != nil {
		return fmt.Errorf("build evaluator: %w", err)
	}
	engine := mcts.NewEngine(ev, s.cfg.Search, nil)

	s.mu.Lock()
	// The old evaluator stays referenced by in-flight searches until they
	// finish; the swap only redirects new requests.
	s.mdl = m
	s.ev = ev
	s.engine = engine
	s.lastErr = ""
	s.mu.Unlock()

	s.log.Info().Str("fingerprint", m.Fingerprint()).Msg("model loaded")
	return nil
}

// RunModelReload polls for model staleness until the context ends: local
// manifest mtime when serving from disk, remote ETag when a URL is set.
func (s *Server) RunModelReload(ctx context.Context) {
	if s.cfg.ModelCheckInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.ModelCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if s.cfg.ModelURL != "" {
			changed, err := s.fetcher.Fetch(s.cfg.ModelURL, s.cfg.ModelDir)
			if err != nil {
				s.log.Warn().Err(err).Msg("remote model check failed")
				continue
			}
			if !changed {
				continue
			}
		} else {
			s.mu.RLock()
			mdl := s.mdl
			s.mu.RUnlock()
			if mdl != nil {
				stale, err := mdl.StaleLocal()
				if err != nil || !stale {
					continue
				}
			}
		}
		if err := s.reloadModel(); err != nil {
			s.log.Error().Err(err).Msg("model reload failed, keeping last good model")
		}
	}
}

// Handler returns the HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /get-move", s.handleGetMove)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /swap2/propose", s.handleSwap2Propose)
	mux.HandleFunc("POST /swap2/second", s.handleSwap2Second)
	mux.Handle("GET /watch", s.hub)
	return mux
}

type getMoveRequest struct {
	Board            store.BoardState `json:"board"`
	Player           string           `json:"player"`
	Moves            [][2]int         `json:"moves,omitempty"`
	TurnEndsAt       int64            `json:"turnEndsAt,omitempty"`
	TimeLeftMs       int              `json:"timeLeftMs,omitempty"`
	TurnLimitMs      int              `json:"turnLimitMs,omitempty"`
	ForceThinkTimeMs int              `json:"forceThinkTimeMs,omitempty"`
}

type getMoveResponse struct {
	Move   [2]int `json:"move"`
	Source string `json:"source,omitempty"`
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) currentEngine() (*mcts.Engine, inference.Evaluator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.ev
}

func (s *Server) handleGetMove(w http.ResponseWriter, r *http.Request) {
	var req getMoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed json: "+err.Error())
		return
	}

	if len(req.Board) != s.cfg.BoardSize {
		httpError(w, http.StatusBadRequest,
			fmt.Sprintf("board size %d does not match model size %d", len(req.Board), s.cfg.BoardSize))
		return
	}
	b, ok := req.Board.Board()
	if !ok {
		httpError(w, http.StatusBadRequest, "ragged board")
		return
	}
	player := game.StoneFromName(req.Player)
	if player == game.Empty {
		httpError(w, http.StatusBadRequest, "player must be black or white")
		return
	}

	engine, _ := s.currentEngine()
	if engine == nil {
		httpError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	moveCount := b.Stones()
	if len(req.Moves) > 0 {
		moveCount = len(req.Moves)
	}

	start := time.Now()

	// Opening book first, while the position is shallow.
	if s.openBk != nil && moveCount <= s.cfg.BookMoveLimit {
		if mv, ok := s.openBk.Lookup(b); ok {
			writeJSON(w, getMoveResponse{Move: [2]int{mv.R, mv.C}, Source: "book"})
			s.hub.Broadcast(MoveEvent{
				Move:        [2]int{mv.R, mv.C},
				Player:      req.Player,
				Source:      "book",
				ThinkTimeMs: time.Since(start).Milliseconds(),
				TS:          time.Now().UnixMilli(),
			})
			return
		}
	}

	think := ComputeThinkTime(TimeFields{
		ForceThinkTimeMs: req.ForceThinkTimeMs,
		TimeLeftMs:       req.TimeLeftMs,
		TurnLimitMs:      req.TurnLimitMs,
		TurnEndsAt:       req.TurnEndsAt,
	}, moveCount, time.Now())

	s.searchMu.Lock()
	mv, stats, err := engine.FindBestMove(b, player, think)
	s.searchMu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if mv == game.NoMove {
		httpError(w, http.StatusBadRequest, "no legal move available")
		return
	}

	writeJSON(w, getMoveResponse{Move: [2]int{mv.R, mv.C}})

	visits := 0
	for _, st := range stats {
		if st.Move == mv {
			visits = st.Visits
		}
	}
	s.hub.Broadcast(MoveEvent{
		Move:        [2]int{mv.R, mv.C},
		Player:      req.Player,
		Source:      "search",
		ThinkTimeMs: time.Since(start).Milliseconds(),
		Visits:      visits,
		Candidates:  len(stats),
		TS:          time.Now().UnixMilli(),
	})
}

type healthResponse struct {
	OK        bool   `json:"ok"`
	ModelPath string `json:"modelPath,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := healthResponse{OK: s.engine != nil, Error: s.lastErr}
	if s.mdl != nil {
		resp.ModelPath = s.mdl.Dir
	}
	writeJSON(w, resp)
}

type swap2Response struct {
	Board      store.BoardState `json:"board"`
	ToMove     string           `json:"toMove"`
	SwapColors bool             `json:"swapColors,omitempty"`
}

func (s *Server) handleSwap2Propose(w http.ResponseWriter, r *http.Request) {
	b, _ := swap2.Propose(s.cfg.BoardSize)
	writeJSON(w, swap2Response{Board: store.BoardStateFrom(b), ToMove: "white"})
}

func (s *Server) handleSwap2Second(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Board store.BoardState `json:"board"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "malformed json: "+err.Error())
		return
	}
	if len(req.Board) != s.cfg.BoardSize {
		httpError(w, http.StatusBadRequest, "board size mismatch")
		return
	}
	b, ok := req.Board.Board()
	if !ok {
		httpError(w, http.StatusBadRequest, "ragged board")
		return
	}

	engine, ev := s.currentEngine()
	if engine == nil {
		httpError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}

	s.searchMu.Lock()
	negotiator := swap2.NewNegotiator(ev, engine.Cache())
	decision, err := negotiator.ChooseSecond(b)
	s.searchMu.Unlock()
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, swap2Response{
		Board:      store.BoardStateFrom(decision.Board),
		ToMove:     decision.ToMove.String(),
		SwapColors: decision.SwapColors,
	})
}
