package database

// ArticleRepository is the persistence contract the pipeline works against.
// It is the only component allowed to mutate lifecycle state; every write is
// conditioned on the expected prior state, which is the sole concurrency
// guard the pipeline needs.
type ArticleRepository interface {
	UpsertDiscovered(meta DiscoveredArticle) (*Article, bool, error)
	Transition(fingerprint string, from, to State, payload Payload) error
	MarkFailed(fingerprint string, from State, reason string) error
	RecordDeliveryFailure(fingerprint string, reason string) error
	ListByState(state State, limit int) ([]Article, error)
	GetByFingerprint(fingerprint string) (*Article, error)
	CountByState() (map[State]int, error)
}
