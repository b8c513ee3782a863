package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/solstake/ledger-engine/internal/model"
)

// MongoStore implements Store on MongoDB. Decimals are stored as
// Decimal128 so $inc stays exact.
//
// Entity transitions are conditional single-document updates. The paired
// user $inc is a second write; when it fails the entity write stands and
// ErrAggregateUpdate is returned for the reconciler to repair.
type MongoStore struct {
	client    *mongo.Client
	users     *mongo.Collection
	trades    *mongo.Collection
	stakes    *mongo.Collection
	lotteries *mongo.Collection
	tickets   *mongo.Collection
	prices    *mongo.Collection
}

// NewMongoStore connects to uri and uses database dbName.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	opts := options.Client().ApplyURI(uri).SetRegistry(newRegistry())
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	return newMongoStore(client, client.Database(dbName)), nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:    client,
		users:     db.Collection("users"),
		trades:    db.Collection("trades"),
		stakes:    db.Collection("stakes"),
		lotteries: db.Collection("lotteries"),
		tickets:   db.Collection("lotterytickets"),
		prices:    db.Collection("tokenprices"),
	}
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and sort indexes the queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	specs := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "telegramId", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "totalTradeVolume", Value: -1}}},
		}},
		{s.trades, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
		}},
		{s.stakes, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}, {Key: "startDate", Value: -1}}},
		}},
		{s.lotteries, []mongo.IndexModel{
			{Keys: bson.D{{Key: "round", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.tickets, []mongo.IndexModel{
			{Keys: bson.D{{Key: "lotteryId", Value: 1}, {Key: "userId", Value: 1}}},
		}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateMany(ctx, spec.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", spec.coll.Name(), err)
		}
	}
	return nil
}

// --- Users ---

func (s *MongoStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.users.InsertOne(ctx, u)
	return mongoError(err, "create user "+u.ID)
}

func (s *MongoStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		return nil, mongoError(err, "get user "+id)
	}
	return &u, nil
}

func (s *MongoStore) GetUserByTelegramID(ctx context.Context, telegramID string) (*model.User, error) {
	var u model.User
	if err := s.users.FindOne(ctx, bson.M{"telegramId": telegramID}).Decode(&u); err != nil {
		return nil, mongoError(err, "get user by telegram id "+telegramID)
	}
	return &u, nil
}

func (s *MongoStore) SetUserWallet(ctx context.Context, id, address string) error {
	return s.updateUser(ctx, id, bson.M{"$set": bson.M{"walletAddress": address}})
}

func (s *MongoStore) UpdateUserSettings(ctx context.Context, id string, settings model.UserSettings) error {
	return s.updateUser(ctx, id, bson.M{"$set": bson.M{"settings": settings}})
}

func (s *MongoStore) IncrementUserStats(ctx context.Context, id string, delta model.StatsDelta) error {
	return s.updateUser(ctx, id, bson.M{"$inc": incDoc(delta)})
}

func (s *MongoStore) ResetUserAggregates(ctx context.Context, id string, expected, agg model.Aggregates) error {
	filter := bson.M{
		"_id":                    id,
		"totalTradeVolume":       expected.TotalTradeVolume,
		"stats.totalTrades":      expected.Stats.TotalTrades,
		"stats.successfulTrades": expected.Stats.SuccessfulTrades,
		"stats.failedTrades":     expected.Stats.FailedTrades,
		"stats.profitLoss":       expected.Stats.ProfitLoss,
		"stats.totalStaked":      expected.Stats.TotalStaked,
		"stats.totalRewards":     expected.Stats.TotalRewards,
	}
	update := bson.M{"$set": bson.M{
		"totalTradeVolume": agg.TotalTradeVolume,
		"stats":            agg.Stats,
	}}
	res, err := s.users.UpdateOne(ctx, filter, update)
	if err != nil {
		return mongoError(err, "reset aggregates "+id)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return mongoError(err, "reset aggregates "+id)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: user %s aggregates changed", ErrConflict, id)
}

func (s *MongoStore) TopUsersByVolume(ctx context.Context, limit int) ([]model.User, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "totalTradeVolume", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var users []model.User
	if err := cur.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *MongoStore) ListUserIDs(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.users.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// --- Trades ---

func (s *MongoStore) CreateTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.trades.InsertOne(ctx, t)
	return mongoError(err, "create trade "+t.ID)
}

func (s *MongoStore) GetTrade(ctx context.Context, id string) (*model.Trade, error) {
	var t model.Trade
	if err := s.trades.FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, mongoError(err, "get trade "+id)
	}
	return &t, nil
}

func (s *MongoStore) SettleTrade(ctx context.Context, id string, st model.TradeSettlement, delta model.StatsDelta) (*model.Trade, error) {
	update := bson.M{"$set": bson.M{
		"status":        st.Status,
		"amountOut":     st.AmountOut,
		"txHash":        st.TxHash,
		"price":         st.Price,
		"fee":           st.Fee,
		"failureReason": st.FailureReason,
		"settledAt":     st.SettledAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var t model.Trade
	err := s.trades.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": model.TradePending}, update, opts).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.conflictOrMissing(ctx, s.trades, "trade", id)
	}
	if err != nil {
		return nil, mongoError(err, "settle trade "+id)
	}

	if err := s.IncrementUserStats(ctx, t.UserID, delta); err != nil {
		return &t, fmt.Errorf("%w: trade %s: %w", ErrAggregateUpdate, id, err)
	}
	return &t, nil
}

func (s *MongoStore) ListTradesByUser(ctx context.Context, userID string, limit int) ([]model.Trade, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.trades.Find(ctx, bson.M{"userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	var trades []model.Trade
	if err := cur.All(ctx, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// --- Stakes ---

func (s *MongoStore) CreateStake(ctx context.Context, st *model.Stake, delta model.StatsDelta) error {
	if _, err := s.stakes.InsertOne(ctx, st); err != nil {
		return mongoError(err, "create stake "+st.ID)
	}
	if err := s.IncrementUserStats(ctx, st.UserID, delta); err != nil {
		return fmt.Errorf("%w: stake %s: %w", ErrAggregateUpdate, st.ID, err)
	}
	return nil
}

func (s *MongoStore) GetStake(ctx context.Context, id string) (*model.Stake, error) {
	var st model.Stake
	if err := s.stakes.FindOne(ctx, bson.M{"_id": id}).Decode(&st); err != nil {
		return nil, mongoError(err, "get stake "+id)
	}
	return &st, nil
}

func (s *MongoStore) EndStake(ctx context.Context, id string, settle model.StakeSettlement, delta model.StatsDelta) (*model.Stake, error) {
	update := bson.M{"$set": bson.M{
		"status":        model.StakeEnded,
		"rewards":       settle.Rewards,
		"lastClaimDate": settle.EndedAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var st model.Stake
	err := s.stakes.FindOneAndUpdate(ctx, bson.M{"_id": id, "status": model.StakeActive}, update, opts).Decode(&st)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, s.conflictOrMissing(ctx, s.stakes, "stake", id)
	}
	if err != nil {
		return nil, mongoError(err, "end stake "+id)
	}

	if err := s.IncrementUserStats(ctx, st.UserID, delta); err != nil {
		return &st, fmt.Errorf("%w: stake %s: %w", ErrAggregateUpdate, id, err)
	}
	return &st, nil
}

func (s *MongoStore) ListStakesByUser(ctx context.Context, userID, status string) ([]model.Stake, error) {
	filter := bson.M{"userId": userID}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "startDate", Value: -1}})
	cur, err := s.stakes.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var stakes []model.Stake
	if err := cur.All(ctx, &stakes); err != nil {
		return nil, err
	}
	return stakes, nil
}

// --- Lottery ---

func (s *MongoStore) CreateLottery(ctx context.Context, l *model.Lottery) error {
	_, err := s.lotteries.InsertOne(ctx, l)
	return mongoError(err, fmt.Sprintf("create lottery round %d", l.Round))
}

func (s *MongoStore) GetActiveLottery(ctx context.Context) (*model.Lottery, error) {
	var l model.Lottery
	opts := options.FindOne().SetSort(bson.D{{Key: "round", Value: -1}})
	if err := s.lotteries.FindOne(ctx, bson.M{"status": model.LotteryActive}, opts).Decode(&l); err != nil {
		return nil, mongoError(err, "get active lottery")
	}
	return &l, nil
}

// AddTickets inserts the ticket row before bumping the round total, so a
// failed insert never leaves totalTickets above the sum of its rows.
func (s *MongoStore) AddTickets(ctx context.Context, t *model.LotteryTicket) error {
	if _, err := s.tickets.InsertOne(ctx, t); err != nil {
		return mongoError(err, "add tickets "+t.ID)
	}
	res, err := s.lotteries.UpdateOne(ctx, bson.M{"_id": t.LotteryID}, bson.M{"$inc": bson.M{"totalTickets": t.Count}})
	if err == nil && res.MatchedCount == 0 {
		err = fmt.Errorf("%w: lottery %s", ErrNotFound, t.LotteryID)
	}
	if err != nil {
		if _, derr := s.tickets.DeleteOne(ctx, bson.M{"_id": t.ID}); derr != nil {
			slog.Error("add tickets: remove orphan ticket failed", "ticket", t.ID, "err", derr)
		}
		return mongoError(err, "add tickets "+t.ID)
	}
	return nil
}

func (s *MongoStore) ListTickets(ctx context.Context, lotteryID, userID string) ([]model.LotteryTicket, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}})
	cur, err := s.tickets.Find(ctx, bson.M{"lotteryId": lotteryID, "userId": userID}, opts)
	if err != nil {
		return nil, err
	}
	var tickets []model.LotteryTicket
	if err := cur.All(ctx, &tickets); err != nil {
		return nil, err
	}
	return tickets, nil
}

// --- Prices ---

func (s *MongoStore) UpsertTokenPrice(ctx context.Context, p *model.TokenPrice) error {
	_, err := s.prices.ReplaceOne(ctx, bson.M{"_id": p.Symbol}, p, options.Replace().SetUpsert(true))
	return mongoError(err, "upsert price "+p.Symbol)
}

func (s *MongoStore) GetTokenPrice(ctx context.Context, symbol string) (*model.TokenPrice, error) {
	var p model.TokenPrice
	if err := s.prices.FindOne(ctx, bson.M{"_id": symbol}).Decode(&p); err != nil {
		return nil, mongoError(err, "get price "+symbol)
	}
	return &p, nil
}

// --- Helpers ---

func (s *MongoStore) updateUser(ctx context.Context, id string, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return mongoError(err, "update user "+id)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	return nil
}

func (s *MongoStore) conflictOrMissing(ctx context.Context, coll *mongo.Collection, kind, id string) error {
	var doc struct {
		Status string `bson:"status"`
	}
	err := coll.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"status": 1})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %s is %s", ErrConflict, kind, id, doc.Status)
}

// incDoc builds the $inc document for a delta, skipping zero fields.
func incDoc(d model.StatsDelta) bson.M {
	inc := bson.M{}
	if d.TotalTrades != 0 {
		inc["stats.totalTrades"] = d.TotalTrades
	}
	if d.SuccessfulTrades != 0 {
		inc["stats.successfulTrades"] = d.SuccessfulTrades
	}
	if d.FailedTrades != 0 {
		inc["stats.failedTrades"] = d.FailedTrades
	}
	if !d.Volume.IsZero() {
		inc["totalTradeVolume"] = d.Volume
	}
	if !d.ProfitLoss.IsZero() {
		inc["stats.profitLoss"] = d.ProfitLoss
	}
	if !d.Staked.IsZero() {
		inc["stats.totalStaked"] = d.Staked
	}
	if !d.Rewards.IsZero() {
		inc["stats.totalRewards"] = d.Rewards
	}
	return inc
}

func mongoError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDuplicate, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// --- Decimal codec ---

var decimalType = reflect.TypeOf(decimal.Decimal{})

func newRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(decimalType, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(decimalType, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != decimalType {
		return bsoncodec.ValueEncoderError{Name: "DecimalEncodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}
	d := val.Interface().(decimal.Decimal)
	d128, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return err
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != decimalType {
		return bsoncodec.ValueDecoderError{Name: "DecimalDecodeValue", Types: []reflect.Type{decimalType}, Received: val}
	}

	var d decimal.Decimal
	switch vr.Type() {
	case bsontype.Decimal128:
		d128, err := vr.ReadDecimal128()
		if err != nil {
			return err
		}
		if d, err = decimal.NewFromString(d128.String()); err != nil {
			return err
		}
	case bsontype.Double:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		d = decimal.NewFromFloat(f)
	case bsontype.Int32:
		i, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt32(i)
	case bsontype.Int64:
		i, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt(i)
	case bsontype.String:
		str, err := vr.ReadString()
		if err != nil {
			return err
		}
		if d, err = decimal.NewFromString(str); err != nil {
			return err
		}
	case bsontype.Null:
		if err := vr.ReadNull(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot decode %v into decimal", vr.Type())
	}
	val.Set(reflect.ValueOf(d))
	return nil
}
