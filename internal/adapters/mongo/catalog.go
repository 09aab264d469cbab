package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/filmgate/cinema-booking/internal/domain"
	"github.com/filmgate/cinema-booking/internal/observability"
)

// CatalogRepository reads the movie/cinema/hall catalog. The catalog is
// owned by the out-of-scope admin surface; this side only looks up seat
// layouts and denormalized names.
type CatalogRepository struct {
	movies  *mongo.Collection
	cinemas *mongo.Collection
	halls   *mongo.Collection
	logger  observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		movies:  db.Collection("movies"),
		cinemas: db.Collection("cinemas"),
		halls:   db.Collection("halls"),
		logger:  logger,
	}
}

type MovieDoc struct {
	ID       uuid.UUID `bson:"_id"`
	Title    string    `bson:"title"`
	Duration int       `bson:"duration_minutes"`
	Rating   string    `bson:"rating"`
}

type CinemaDoc struct {
	ID   uuid.UUID `bson:"_id"`
	Name string    `bson:"name"`
	City string    `bson:"city"`
}

type HallDoc struct {
	ID        uuid.UUID `bson:"_id"`
	CinemaID  uuid.UUID `bson:"cinema_id"`
	Name      string    `bson:"name"`
	Seats     []string  `bson:"seats"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *CatalogRepository) GetMovie(ctx context.Context, id uuid.UUID) (*MovieDoc, error) {
	var movie MovieDoc
	err := c.movies.FindOne(ctx, bson.M{"_id": id}).Decode(&movie)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get movie", err)
		return nil, err
	}
	return &movie, nil
}

func (c *CatalogRepository) GetCinema(ctx context.Context, id uuid.UUID) (*CinemaDoc, error) {
	var cinema CinemaDoc
	err := c.cinemas.FindOne(ctx, bson.M{"_id": id}).Decode(&cinema)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get cinema", err)
		return nil, err
	}
	return &cinema, nil
}

// HallSeats returns the hall's full seat layout; the inventory for a new
// showtime is initialized from it.
func (c *CatalogRepository) HallSeats(ctx context.Context, hallID uuid.UUID) ([]string, error) {
	var hall HallDoc
	err := c.halls.FindOne(ctx, bson.M{"_id": hallID}).Decode(&hall)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get hall", err)
		return nil, err
	}
	return hall.Seats, nil
}
