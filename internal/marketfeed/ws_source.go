package marketfeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSSource is a concrete Source backed by a persistent websocket
// connection. It caches the latest frame per symbol from the read loop
// and answers FetchTicker from that cache, reconnecting in the
// background on drop.
type WSSource struct {
	name   string
	url    string
	logger *zap.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	cache  map[string]types.MarketFrame

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWSSource dials url and starts the background read/reconnect loop.
// Wire-level message parsing is venue-specific and intentionally left
// to the caller-supplied decode function so this type stays reusable
// across exchanges.
func NewWSSource(logger *zap.Logger, name, url string, decode func([]byte) (types.MarketFrame, error)) (*WSSource, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &WSSource{
		name:   name,
		url:    url,
		logger: logger.Named("marketfeed").With(zap.String("source", name)),
		cache:  make(map[string]types.MarketFrame),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := s.connect(); err != nil {
		cancel()
		return nil, err
	}
	s.wg.Add(1)
	go s.readLoop(decode)
	return s, nil
}

func (s *WSSource) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	if err != nil {
		return fmt.Errorf("marketfeed: dial %s: %w", s.name, err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return nil
}

func (s *WSSource) readLoop(decode func([]byte) (types.MarketFrame, error)) {
	defer s.wg.Done()
	backoff := time.Second
	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			time.Sleep(backoff)
			if err := s.connect(); err != nil {
				s.logger.Warn("reconnect failed", zap.Error(err))
				backoff = minDuration(backoff*2, 30*time.Second)
				continue
			}
			backoff = time.Second
			continue
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.logger.Warn("read failed, reconnecting", zap.Error(err))
			s.mu.Lock()
			s.conn = nil
			s.mu.Unlock()
			continue
		}

		frame, err := decode(msg)
		if err != nil {
			continue
		}
		s.mu.Lock()
		s.cache[frame.Symbol] = frame
		s.mu.Unlock()
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func (s *WSSource) Name() string { return s.name }

// FetchTicker answers from the background-refreshed cache. Returns an
// error if the symbol has never been observed or ctx is already done;
// the age of the cached frame is not checked.
func (s *WSSource) FetchTicker(ctx context.Context, symbol string) (types.MarketFrame, error) {
	s.mu.RLock()
	frame, ok := s.cache[symbol]
	s.mu.RUnlock()
	if !ok {
		return types.MarketFrame{}, fmt.Errorf("marketfeed: no data cached for %s", symbol)
	}
	select {
	case <-ctx.Done():
		return types.MarketFrame{}, ctx.Err()
	default:
	}
	return frame, nil
}

func (s *WSSource) Close() error {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.wg.Wait()
	return nil
}
