package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	betKeyPrefix       = "bet:"
	participantsSuffix = ":participants"
	creatorIndexKeyFmt = "bets:creator:%s"
)

// Bet is a created bet, recorded only after its creation fee was paid.
type Bet struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	StakeAmount     string `json:"stake_amount"`
	Deadline        string `json:"deadline"`
	CreatorAddress  string `json:"creator_address"`
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"created_at"`
}

// Participation is one paid join.
type Participation struct {
	BetID              string `json:"bet_id"`
	ParticipantAddress string `json:"participant_address"`
	Amount             string `json:"amount"`
	TransactionHash    string `json:"transaction_hash"`
	JoinedAt           int64  `json:"joined_at"`
}

// Ledger records the effects of paid actions. It is only called after a
// proof has been accepted.
type Ledger interface {
	RecordCreated(ctx context.Context, b Bet) error
	RecordJoined(ctx context.Context, p Participation) error
}

// Reader is the free read side of the ledger.
type Reader interface {
	GetBet(ctx context.Context, id string) (*Bet, error)
	Participations(ctx context.Context, betID string) ([]Participation, error)
	BetsByCreator(ctx context.Context, addr string) ([]string, error)
}

// RedisLedger stores bets as hashes and participations as a list per bet.
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func betKey(id string) string {
	return betKeyPrefix + id
}

func participantsKey(id string) string {
	return betKeyPrefix + id + participantsSuffix
}

func creatorKey(addr string) string {
	return fmt.Sprintf(creatorIndexKeyFmt, strings.ToLower(addr))
}

func (l *RedisLedger) RecordCreated(ctx context.Context, b Bet) error {
	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, betKey(b.ID),
		"id", b.ID,
		"description", b.Description,
		"stake_amount", b.StakeAmount,
		"deadline", b.Deadline,
		"creator_address", b.CreatorAddress,
		"transaction_hash", b.TransactionHash,
		"status", b.Status,
		"created_at", b.CreatedAt,
	)
	pipe.SAdd(ctx, creatorKey(b.CreatorAddress), b.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record bet %s: %w", b.ID, err)
	}
	return nil
}

// RecordJoined appends the participation. Bets created outside this ledger
// (seeded markets) can be joined, so the bet hash is not required to exist.
func (l *RedisLedger) RecordJoined(ctx context.Context, p Participation) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participation: %w", err)
	}
	if err := l.rdb.RPush(ctx, participantsKey(p.BetID), string(raw)).Err(); err != nil {
		return fmt.Errorf("record join %s: %w", p.BetID, err)
	}
	return nil
}

// GetBet returns the bet or nil if it was never recorded.
func (l *RedisLedger) GetBet(ctx context.Context, id string) (*Bet, error) {
	vals, err := l.rdb.HGetAll(ctx, betKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return betFromMap(vals), nil
}

// Participations returns the joins recorded for a bet, oldest first.
func (l *RedisLedger) Participations(ctx context.Context, betID string) ([]Participation, error) {
	raws, err := l.rdb.LRange(ctx, participantsKey(betID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Participation, 0, len(raws))
	for _, raw := range raws {
		var p Participation
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// BetsByCreator returns the IDs of bets created by addr.
func (l *RedisLedger) BetsByCreator(ctx context.Context, addr string) ([]string, error) {
	return l.rdb.SMembers(ctx, creatorKey(addr)).Result()
}

func betFromMap(m map[string]string) *Bet {
	createdAt, _ := strconv.ParseInt(m["created_at"], 10, 64)
	return &Bet{
		ID:              m["id"],
		Description:     m["description"],
		StakeAmount:     m["stake_amount"],
		Deadline:        m["deadline"],
		CreatorAddress:  m["creator_address"],
		TransactionHash: m["transaction_hash"],
		Status:          m["status"],
		CreatedAt:       createdAt,
	}
}
