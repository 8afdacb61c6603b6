// Package bidder implements the bidder participant: it answers offers according to its private
// interest profile and tracks the auctions it has won.
package bidder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/transport"
)

// DefaultAnnouncementTTL is how long an announcement is remembered when no notice ends it.
const DefaultAnnouncementTTL = 10 * time.Minute

// Config configures a bidder.
type Config struct {
	Strategy core.Strategy
	// Profile fixes the interest profile. When nil a random profile is drawn from Presets and
	// Creators.
	Profile  *core.Profile
	Presets  []core.InterestPreset
	Creators []string
	Rand     core.RandSource
	// AnnouncementTTL bounds how long an announced auction is tracked. Auctions that fail send
	// no notice, so their announcements are only dropped when this passes.
	AnnouncementTTL time.Duration
}

// Win is an auction the bidder won. A provisional win is a local win in a federated auction
// that still awaits the global decision.
type Win struct {
	ConversationID string  `json:"conversation_id"`
	Item           string  `json:"item"`
	Amount         float64 `json:"amount"`
	Final          bool    `json:"final"`
}

// Bidder answers offers received on its endpoint.
type Bidder struct {
	cfg      Config
	endpoint transport.Endpoint
	logger   *zap.Logger

	mu        sync.Mutex
	profile   core.Profile
	wins      map[string]Win

	announced *cache.Cache
}

// New creates a bidder listening on ep.
func New(cfg Config, ep transport.Endpoint, logger *zap.Logger) (*Bidder, error) {
	if len(cfg.Presets) == 0 {
		cfg.Presets = core.DefaultInterestPresets
	}
	if cfg.Rand == nil {
		cfg.Rand = core.DefaultRandSource
	}
	if cfg.AnnouncementTTL <= 0 {
		cfg.AnnouncementTTL = DefaultAnnouncementTTL
	}

	b := &Bidder{
		cfg:       cfg,
		endpoint:  ep,
		logger:    logging.Participant(logger, "bidder", ep.Address()),
		wins:      make(map[string]Win),
		announced: cache.New(cfg.AnnouncementTTL, cfg.AnnouncementTTL),
	}

	if cfg.Profile != nil {
		b.profile = *cfg.Profile
		b.profile.Strategy = cfg.Strategy
		return b, nil
	}
	if err := b.Respawn(cfg.Rand); err != nil {
		return nil, err
	}
	return b, nil
}

// Address is the bidder's transport address.
func (b *Bidder) Address() string {
	return b.endpoint.Address()
}

// Profile returns the current interest profile.
func (b *Bidder) Profile() core.Profile {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile
}

// Respawn replaces the interest profile with a freshly drawn one. The strategy is kept.
func (b *Bidder) Respawn(rs core.RandSource) error {
	profile, err := core.RandomProfile(rs, b.cfg.Strategy, b.cfg.Presets, b.cfg.Creators)
	if err != nil {
		return fmt.Errorf("draw profile: %w", err)
	}

	b.mu.Lock()
	b.profile = profile
	b.mu.Unlock()

	b.logger.Debug("profile drawn",
		zap.Strings("subjects", profile.Subjects),
		zap.Strings("media", profile.Media),
		zap.Strings("creators", profile.Creators),
		zap.Stringer("strategy", profile.Strategy))
	return nil
}

// Wins returns the auctions won so far, provisional ones included.
func (b *Bidder) Wins() []Win {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Win, 0, len(b.wins))
	for _, w := range b.wins {
		out = append(out, w)
	}
	return out
}

// Run handles messages until ctx is done. It returns nil on cancellation and an error if the
// endpoint is closed underneath it.
func (b *Bidder) Run(ctx context.Context) error {
	for {
		env, err := b.endpoint.Receive(ctx, transport.Any)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("bidder %s: %w", b.Address(), err)
		}
		if err := b.Handle(ctx, env); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				return fmt.Errorf("bidder %s: %w", b.Address(), err)
			}
			b.logger.Debug("reply not delivered", zap.Error(err))
		}
	}
}

// Handle processes one message. It returns an error only when a reply could not be sent.
func (b *Bidder) Handle(ctx context.Context, env auctionapi.Envelope) error {
	logger := b.logger.With(zap.String(logging.FieldConversation, env.ConversationID))

	switch env.Type {
	case auctionapi.TypeAnnounce:
		a, err := parsing.DecodeAnnouncement(env)
		if err != nil {
			logger.Debug("ignoring announcement", zap.Error(err))
			return nil
		}
		b.announced.SetDefault(env.ConversationID, a)
		logger.Debug("auction announced", zap.String(logging.FieldItem, a.Item.Name))
		return nil

	case auctionapi.TypeOffer:
		return b.answerOffer(ctx, logger, env)

	case auctionapi.TypeAccept, auctionapi.TypeProvisional, auctionapi.TypeReject:
		return b.handleNotice(ctx, logger, env)

	default:
		logger.Debug("ignoring message", zap.String("type", string(env.Type)), zap.String("sender", env.Sender))
		return nil
	}
}

func (b *Bidder) answerOffer(ctx context.Context, logger *zap.Logger, env auctionapi.Envelope) error {
	var response core.Response

	offer, err := parsing.DecodeOffer(env)
	if err != nil {
		logger.Debug("offer not understood", zap.Error(err))
		response = core.ProtocolFault(b.Address(), err.Error())
	} else {
		_, announced := b.announced.Get(env.ConversationID)
		profile := b.Profile()
		if !announced {
			logger.Debug("offer for unannounced auction", zap.String(logging.FieldItem, offer.Item.Name))
		}

		response = core.Evaluate(b.Address(), profile, offer.Item, offer.AskingPrice)
		logger.Debug("offer evaluated",
			zap.Int(logging.FieldRound, offer.Round),
			zap.Float64(logging.FieldAskingPrice, offer.AskingPrice),
			zap.Float64("willing_to_pay", core.WillingnessToPay(profile, offer.Item)),
			zap.Stringer("response", response.Kind))
	}

	typ, body := auctionapi.ReplyFor(response)
	reply, err := auctionapi.NewEnvelope(typ, env.ConversationID, b.Address(), env.Round, body)
	if err != nil {
		return err
	}
	return b.endpoint.Send(ctx, env.Sender, reply)
}

func (b *Bidder) handleNotice(ctx context.Context, logger *zap.Logger, env auctionapi.Envelope) error {
	notice, err := parsing.DecodeNotice(env)
	if err != nil {
		logger.Debug("ignoring notice", zap.Error(err))
		return nil
	}
	win := Win{ConversationID: env.ConversationID, Item: notice.Item, Amount: notice.Amount}

	switch env.Type {
	case auctionapi.TypeProvisional:
		b.mu.Lock()
		b.wins[env.ConversationID] = win
		b.mu.Unlock()
		logger.Info("provisionally won", zap.String(logging.FieldItem, notice.Item), zap.Float64("amount", notice.Amount))
		return nil

	case auctionapi.TypeReject:
		b.mu.Lock()
		delete(b.wins, env.ConversationID)
		b.mu.Unlock()
		b.announced.Delete(env.ConversationID)
		logger.Debug("bid rejected", zap.String(logging.FieldItem, notice.Item))
		return nil
	}

	win.Final = true
	b.mu.Lock()
	b.wins[env.ConversationID] = win
	b.mu.Unlock()
	b.announced.Delete(env.ConversationID)
	logger.Info("won auction", zap.String(logging.FieldItem, notice.Item), zap.Float64("amount", notice.Amount))

	confirm, err := auctionapi.NewEnvelope(auctionapi.TypeConfirm, env.ConversationID, b.Address(), env.Round, notice)
	if err != nil {
		return err
	}
	return b.endpoint.Send(ctx, env.Sender, confirm)
}
