package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	EnsureIndexes(ctx context.Context) error
	SaveMessage(ctx context.Context, msg *Message) error
	GetByID(ctx context.Context, msgID string) (*Message, error)
	ListAfter(ctx context.Context, convID string, afterSeq uint64, limit int) ([]*Message, error)
	ListBefore(ctx context.Context, convID string, beforeSeq uint64, limit int) ([]*Message, error)
	MarkReadUpTo(ctx context.Context, convID, userID string, uptoSeq uint64) ([]string, error)
	AddReader(ctx context.Context, msgID, userID string) (bool, error)
	CountUnread(ctx context.Context, convID, userID string, afterSeq uint64) (int64, error)
	DeleteByConversation(ctx context.Context, convID string) (int64, error)
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// EnsureIndexes (conversation_id, seq) 唯一，保证同会话序号不重复
func (s *messageRepoImpl) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_conv_seq"),
		},
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "sender_id", Value: 1}},
			Options: options.Index().SetName("idx_conv_sender"),
		},
	})
	return err
}

// SaveMessage 将消息存入 MongoDB，ID 和时间为空时由此处补齐
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = primitive.NewObjectID().Hex()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// GetByID 按消息 ID 查询，不存在时返回 mongo.ErrNoDocuments
func (s *messageRepoImpl) GetByID(ctx context.Context, msgID string) (*Message, error) {
	var msg Message
	if err := s.col.FindOne(ctx, bson.M{"_id": msgID}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListAfter 拉取 seq 大于 afterSeq 的消息，按 seq 升序
func (s *messageRepoImpl) ListAfter(ctx context.Context, convID string, afterSeq uint64, limit int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}
	if afterSeq > 0 {
		filter["seq"] = bson.M{"$gt": afterSeq}
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "seq", Value: 1}}).
		SetLimit(int64(limit))
	return s.find(ctx, filter, findOptions)
}

// ListBefore 向前翻页
// beforeSeq 为当前页面最旧一条消息的序号，第一页传 0；结果仍按 seq 升序返回
func (s *messageRepoImpl) ListBefore(ctx context.Context, convID string, beforeSeq uint64, limit int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(limit))
	messages, err := s.find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkReadUpTo 将 uptoSeq 及之前对方发来的未读消息标记为已读
// 返回本次新标记的消息 ID，已读过的不会重复返回
func (s *messageRepoImpl) MarkReadUpTo(ctx context.Context, convID, userID string, uptoSeq uint64) ([]string, error) {
	filter := bson.M{
		"conversation_id": convID,
		"seq":             bson.M{"$lte": uptoSeq},
		"sender_id":       bson.M{"$ne": userID},
		"read_by":         bson.M{"$ne": userID},
	}
	cursor, err := s.col.Find(ctx, filter, options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []string{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	// 并发标记时 read_by 条件保证同一用户只写入一次
	_, err = s.col.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// AddReader 单条消息记为已读，自己发的消息或已读过时返回 false
func (s *messageRepoImpl) AddReader(ctx context.Context, msgID, userID string) (bool, error) {
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": msgID, "sender_id": bson.M{"$ne": userID}, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// CountUnread 统计会话内对方发来且 seq 大于已读指针的未读消息数
func (s *messageRepoImpl) CountUnread(ctx context.Context, convID, userID string, afterSeq uint64) (int64, error) {
	filter := bson.M{
		"conversation_id": convID,
		"sender_id":       bson.M{"$ne": userID},
		"read_by":         bson.M{"$ne": userID},
	}
	if afterSeq > 0 {
		filter["seq"] = bson.M{"$gt": afterSeq}
	}
	return s.col.CountDocuments(ctx, filter)
}

// DeleteByConversation 删除会话下所有消息
func (s *messageRepoImpl) DeleteByConversation(ctx context.Context, convID string) (int64, error) {
	res, err := s.col.DeleteMany(ctx, bson.M{"conversation_id": convID})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (s *messageRepoImpl) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Message, error) {
	cursor, err := s.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	messages := make([]*Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
