package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/config"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/logger"
	"github.com/life-stream-dev/life-stream-go-quiz-live/internal/utils"
)

const QuizCollectionName = "quizzes"

// MongoStore keeps the quiz catalog in MongoDB.
type MongoStore struct {
	client           *mongo.Client
	quizzes          *mongo.Collection
	operationTimeout time.Duration
}

// ConnectMongo opens a pooled client, verifies the connection with a ping and
// ensures the unique index on quiz id.
func ConnectMongo(cfg config.DatabaseConfig) (*MongoStore, error) {
	logger.DebugF("Connecting to database...")

	// Credentials may contain characters that need escaping in the URI.
	encodedUser := url.QueryEscape(cfg.Username)
	encodedPass := url.QueryEscape(cfg.Password)
	databaseURL := fmt.Sprintf("mongodb://%s:%s@%s:%d/?authSource=admin",
		encodedUser, encodedPass,
		cfg.Host,
		cfg.Port,
	)

	clientOptions := options.Client().ApplyURI(databaseURL).SetAppName("quiz-live")
	clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	clientOptions.SetMaxConnIdleTime(utils.ParseStringTime(cfg.ConnectIdleTimeout))
	clientOptions.SetConnectTimeout(utils.ParseStringTime(cfg.ConnectTimeout))
	clientOptions.SetSocketTimeout(utils.ParseStringTime(cfg.SocketTimeout))
	clientOptions.SetHeartbeatInterval(utils.ParseStringTime(cfg.Heartbeat))
	if cfg.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{
			InsecureSkipVerify: false,
		})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %+v", evt)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %+v", evt)
			}
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}

	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}

	quizzes := client.Database(cfg.Database).Collection(QuizCollectionName)

	_, err = quizzes.Indexes().CreateOne(
		ctx,
		mongo.IndexModel{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("quizzes_id_unique"),
		},
	)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while creating database indexes: %w", err)
	}

	return &MongoStore{
		client:           client,
		quizzes:          quizzes,
		operationTimeout: utils.ParseStringTimeOr(cfg.OperationTimeout, 5*time.Second),
	}, nil
}

// Quiz loads one quiz by id.
func (ms *MongoStore) Quiz(ctx context.Context, id int64) (*Quiz, error) {
	if id <= 0 {
		return nil, ErrQuizIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "id", Value: id}}
	var quiz Quiz

	startTime := time.Now()
	err := ms.quizzes.FindOne(ctx, filter).Decode(&quiz)
	logger.DebugF("quiz query cost: %v", time.Since(startTime))

	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrQuizNotFound
		}
		return nil, fmt.Errorf("database operation failed: %w", err)
	}
	return &quiz, nil
}

// Questions returns the quiz's questions sorted by Order.
func (ms *MongoStore) Questions(ctx context.Context, quizID int64) ([]Question, error) {
	quiz, err := ms.Quiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return sortedQuestions(quiz), nil
}

// SaveQuiz upserts a quiz keyed by its id.
func (ms *MongoStore) SaveQuiz(ctx context.Context, quiz *Quiz) error {
	if quiz == nil || quiz.ID <= 0 {
		return ErrQuizIDEmpty
	}
	ctx, cancel := context.WithTimeout(ctx, ms.operationTimeout)
	defer cancel()

	filter := bson.D{{Key: "id", Value: quiz.ID}}
	opts := options.Replace().SetUpsert(true)

	result, err := ms.quizzes.ReplaceOne(ctx, filter, quiz, opts)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("unique key conflicts: %w", err)
		}
		return fmt.Errorf("database operation failed: %w", err)
	}

	logger.InfoF("Quiz saved: id=%d, matched=%d, modified=%d, upserted=%v",
		quiz.ID,
		result.MatchedCount,
		result.ModifiedCount,
		result.UpsertedID != nil,
	)
	return nil
}

// Close disconnects the underlying client.
func (ms *MongoStore) Close(ctx context.Context) error {
	logger.InfoF("Closing database connection")
	ctx, cancel := context.WithTimeout(ctx, ms.operationTimeout)
	defer cancel()
	return ms.client.Disconnect(ctx)
}

// CloseCallback adapts Close to the shutdown cleaner.
type CloseCallback struct {
	store *MongoStore
}

func NewCloseCallback(store *MongoStore) *CloseCallback {
	return &CloseCallback{store: store}
}

func (cc *CloseCallback) Invoke(ctx context.Context) error {
	return cc.store.Close(ctx)
}
