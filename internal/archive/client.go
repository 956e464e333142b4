// Package archive correlates outgoing archive queries with the
// asynchronous responses the server sends back, exposing them to the
// sync core as plain request/response calls.
package archive

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatarchive/mamsync/internal/xmpp"
)

// Result is the outcome of one archive query. A nil *Result means the
// query produced nothing: not connected, rejected by the server, or
// timed out.
type Result struct {
	Page     []xmpp.Forwarded
	Complete bool

	prefs *xmpp.Prefs // preference round trips only
}

// AsyncHandler receives the outcome of a fire-and-forget query. failed
// covers server errors and timeouts alike.
type AsyncHandler func(account, peer string, page []xmpp.Forwarded, complete bool, failed bool)

type pendingQuery struct {
	account  string
	peer     string
	issuedAt time.Time
	reply    chan *Result // sync callers
	handler  AsyncHandler // async callers
}

// Client issues archive queries over a Transport and matches responses
// by query id. It implements xmpp.Sink.
type Client struct {
	transport xmpp.Transport
	log       *zap.Logger
	timeout   time.Duration

	mu      sync.Mutex
	pending map[string]*pendingQuery

	stopSweep chan struct{}
	sweepDone chan struct{}
	sweepOnce sync.Once
}

func NewClient(transport xmpp.Transport, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{
		transport: transport,
		log:       log.Named("archive"),
		timeout:   timeout,
		pending:   make(map[string]*pendingQuery),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
}

// StartSweeper launches the background goroutine that fails queries the
// server never answered. Call StopSweeper on shutdown.
func (c *Client) StartSweeper() {
	go c.sweep()
}

// StopSweeper stops the sweeper goroutine and waits for it to exit.
func (c *Client) StopSweeper() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
	<-c.sweepDone
}

func (c *Client) sweep() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.timeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopSweep:
			return
		case <-ticker.C:
			c.expireStale()
		}
	}
}

func (c *Client) expireStale() {
	cutoff := time.Now().Add(-c.timeout)
	var expired []*pendingQuery
	c.mu.Lock()
	for id, p := range c.pending {
		if p.issuedAt.Before(cutoff) {
			delete(c.pending, id)
			expired = append(expired, p)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		c.log.Warn("archive query timed out",
			zap.String("account", p.account),
			zap.String("peer", p.peer))
		if p.reply != nil {
			p.reply <- nil
		}
		if p.handler != nil {
			p.handler(p.account, p.peer, nil, false, true)
		}
	}
}

// MostRecentPage fetches the newest page of the archive, up to max
// entries, filtered to peer when peer is non-empty.
func (c *Client) MostRecentPage(account, peer, recipient string, max int) *Result {
	return c.roundTrip(account, peer, &xmpp.Query{
		With:      peer,
		Max:       max,
		Recipient: recipient,
	})
}

// PageBefore fetches the page strictly older than the given cursor.
func (c *Client) PageBefore(account, peer, recipient, cursor string, max int) *Result {
	return c.roundTrip(account, peer, &xmpp.Query{
		With:         peer,
		BeforeCursor: cursor,
		Max:          max,
		Recipient:    recipient,
	})
}

// PageAfter fetches the page strictly newer than the given cursor.
func (c *Client) PageAfter(account, peer, recipient, cursor string, max int) *Result {
	return c.roundTrip(account, peer, &xmpp.Query{
		With:        peer,
		AfterCursor: cursor,
		Max:         max,
		Recipient:   recipient,
	})
}

// RangeQuery fetches entries inside [startMS, endMS], oldest first.
func (c *Client) RangeQuery(account, peer, recipient string, startMS, endMS int64, max int) *Result {
	return c.roundTrip(account, peer, &xmpp.Query{
		With:      peer,
		StartMS:   startMS,
		EndMS:     endMS,
		Max:       max,
		Recipient: recipient,
	})
}

func (c *Client) roundTrip(account, peer string, q *xmpp.Query) *Result {
	if !c.transport.Authenticated(account) {
		return nil
	}
	q.ID = uuid.NewString()
	p := &pendingQuery{
		account:  account,
		peer:     peer,
		issuedAt: time.Now(),
		reply:    make(chan *Result, 1),
	}
	c.register(q.ID, p)

	if err := c.transport.Send(account, q); err != nil {
		c.unregister(q.ID)
		c.log.Warn("archive query send failed",
			zap.String("account", account),
			zap.Error(err))
		return nil
	}

	select {
	case res := <-p.reply:
		return res
	case <-time.After(c.timeout):
		c.unregister(q.ID)
		return nil
	}
}

// RequestAsync issues a query without blocking; the handler runs on the
// inbound pipeline's goroutine when the response or a failure arrives.
func (c *Client) RequestAsync(account, peer string, q *xmpp.Query, handler AsyncHandler) bool {
	if !c.transport.Authenticated(account) {
		return false
	}
	q.ID = uuid.NewString()
	c.register(q.ID, &pendingQuery{
		account:  account,
		peer:     peer,
		issuedAt: time.Now(),
		handler:  handler,
	})
	if err := c.transport.Send(account, q); err != nil {
		c.unregister(q.ID)
		return false
	}
	return true
}

// RequestLastMessageAsync asks for the single newest archive entry of a
// peer, used to seed empty conversations during bulk bootstrap.
func (c *Client) RequestLastMessageAsync(account, peer, recipient string, handler AsyncHandler) bool {
	return c.RequestAsync(account, peer, &xmpp.Query{
		With:      peer,
		Max:       1,
		Recipient: recipient,
	}, handler)
}

// RetrievePrefs reads the account's server-side archiving preferences.
func (c *Client) RetrievePrefs(account string) *xmpp.Prefs {
	return c.prefsRoundTrip(account, func(id string) error {
		return c.transport.SendPrefsGet(account, id)
	})
}

// UpdatePrefs writes a new archiving default and returns the applied
// preferences.
func (c *Client) UpdatePrefs(account, def string) *xmpp.Prefs {
	return c.prefsRoundTrip(account, func(id string) error {
		return c.transport.SendPrefsSet(account, id, xmpp.Prefs{Default: def})
	})
}

func (c *Client) prefsRoundTrip(account string, send func(id string) error) *xmpp.Prefs {
	if !c.transport.Authenticated(account) {
		return nil
	}
	id := uuid.NewString()
	p := &pendingQuery{
		account:  account,
		issuedAt: time.Now(),
		reply:    make(chan *Result, 1),
	}
	c.register(id, p)

	if err := send(id); err != nil {
		c.unregister(id)
		return nil
	}

	select {
	case res := <-p.reply:
		if res == nil {
			return nil
		}
		prefs := res.prefs
		return prefs
	case <-time.After(c.timeout):
		c.unregister(id)
		return nil
	}
}

// Supported asks the server whether the account's archive is available.
func (c *Client) Supported(account string) (bool, error) {
	return c.transport.SupportsArchive(account)
}

func (c *Client) register(id string, p *pendingQuery) {
	c.mu.Lock()
	c.pending[id] = p
	c.mu.Unlock()
}

func (c *Client) unregister(id string) *pendingQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[id]
	delete(c.pending, id)
	return p
}

// PendingCount reports how many queries await a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// OnResponse implements xmpp.Sink.
func (c *Client) OnResponse(account, queryID string, page []xmpp.Forwarded, complete bool) {
	p := c.unregister(queryID)
	if p == nil {
		c.log.Debug("response for unknown query", zap.String("query_id", queryID))
		return
	}
	res := &Result{Page: page, Complete: complete}
	if p.reply != nil {
		p.reply <- res
	}
	if p.handler != nil {
		p.handler(p.account, p.peer, page, complete, false)
	}
}

// OnPrefsResult implements xmpp.Sink.
func (c *Client) OnPrefsResult(account, queryID string, prefs xmpp.Prefs) {
	p := c.unregister(queryID)
	if p == nil || p.reply == nil {
		return
	}
	p.reply <- &Result{prefs: &prefs}
}

// OnQueryFailed implements xmpp.Sink.
func (c *Client) OnQueryFailed(account, queryID string) {
	p := c.unregister(queryID)
	if p == nil {
		return
	}
	c.log.Warn("archive query failed",
		zap.String("account", account),
		zap.String("query_id", queryID))
	if p.reply != nil {
		p.reply <- nil
	}
	if p.handler != nil {
		p.handler(p.account, p.peer, nil, false, true)
	}
}
