package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/onemorebsmith/contribution-ledger/src/ledger"
	"github.com/onemorebsmith/contribution-ledger/src/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ContributionsChannel = "ledger:contributions"
	RecentKey            = "ledger:recent"
)

var _ ledger.Notifier = (*RedisNotifier)(nil)

// ContributionEvent is the wire form of a committed contribution. Amounts are
// decimal wei strings so subscribers never lose precision.
type ContributionEvent struct {
	Id                string    `json:"id"`
	Identity          string    `json:"identity"`
	Payment           string    `json:"payment"`
	Reward            string    `json:"reward"`
	CumulativePayment string    `json:"cumulativePayment"`
	CumulativeReward  string    `json:"cumulativeReward"`
	Committed         time.Time `json:"committed"`
}

func NewContributionEvent(c *model.Contribution) ContributionEvent {
	return ContributionEvent{
		Id:                c.Id.String(),
		Identity:          c.Identity.Hex(),
		Payment:           c.Payment.Dec(),
		Reward:            c.Reward.Dec(),
		CumulativePayment: c.Entry.CumulativePayment.Dec(),
		CumulativeReward:  c.Entry.CumulativeReward.Dec(),
		Committed:         c.Committed,
	}
}

func (e ContributionEvent) Contribution() (*model.Contribution, error) {
	var err error
	c := &model.Contribution{Committed: e.Committed}
	if c.Id, err = uuid.Parse(e.Id); err != nil {
		return nil, errors.Wrapf(err, "invalid contribution id %q", e.Id)
	}
	if c.Identity, err = model.ParseIdentity(e.Identity); err != nil {
		return nil, err
	}
	if c.Payment, err = model.ParseAmount(e.Payment); err != nil {
		return nil, err
	}
	if c.Reward, err = model.ParseAmount(e.Reward); err != nil {
		return nil, err
	}
	c.Entry = model.LedgerEntry{Identity: c.Identity}
	if c.Entry.CumulativePayment, err = model.ParseAmount(e.CumulativePayment); err != nil {
		return nil, err
	}
	if c.Entry.CumulativeReward, err = model.ParseAmount(e.CumulativeReward); err != nil {
		return nil, err
	}
	return c, nil
}

type RedisNotifier struct {
	client *redis.Client
	recent ZSet
}

func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{
		client: client,
		recent: NewZSet(client, RecentKey),
	}
}

// Dial connects to redis at addr and verifies the connection
func Dial(ctx context.Context, addr string) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0, // use default DB
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "failed to connect to redis at %s", addr)
	}
	return NewRedisNotifier(client), nil
}

func (n *RedisNotifier) Contributed(ctx context.Context, c *model.Contribution) error {
	payload, err := json.Marshal(NewContributionEvent(c))
	if err != nil {
		return errors.Wrap(err, "failed serializing contribution")
	}
	if err := n.client.Publish(ctx, ContributionsChannel, payload).Err(); err != nil {
		return errors.Wrapf(err, "failed publishing contribution %s", c.Id)
	}
	score := float64(c.Committed.UnixMilli())
	return errors.Wrapf(n.recent.AddWithScore(ctx, score, string(payload)), "failed recording contribution %s", c.Id)
}

// Recent returns up to limit contributions, newest first
func (n *RedisNotifier) Recent(ctx context.Context, limit int64) ([]*model.Contribution, error) {
	raw, err := n.recent.Newest(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed reading recent contributions")
	}
	out := make([]*model.Contribution, 0, len(raw))
	for _, r := range raw {
		event := ContributionEvent{}
		if err := json.Unmarshal([]byte(r), &event); err != nil {
			return nil, errors.Wrap(err, "failed unmarshalling recent contribution")
		}
		c, err := event.Contribution()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Subscribe delivers every published contribution until ctx is cancelled
func (n *RedisNotifier) Subscribe(ctx context.Context, logger *zap.Logger) <-chan *model.Contribution {
	sub := n.client.Subscribe(ctx, ContributionsChannel)
	out := make(chan *model.Contribution)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				event := ContributionEvent{}
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logger.Warn("dropping malformed contribution event", zap.Error(err))
					continue
				}
				c, err := event.Contribution()
				if err != nil {
					logger.Warn("dropping malformed contribution event", zap.Error(err))
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Client exposes the connection for other redis backed components, such as nonce tracking
func (n *RedisNotifier) Client() *redis.Client {
	return n.client
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
