package mongo

import "time"

// flagModel is one document in the flags collection. The key is the
// document id so upserts are single-document writes.
type flagModel struct {
	Key       string    `bson:"_id"`
	Value     bool      `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}
