package db

import "fmt"

// schemaTemplate defines the memory table. The HNSW index dimension is
// filled in from the embedder so mismatched vectors fail at write time.
const schemaTemplate = `
    DEFINE TABLE IF NOT EXISTS memory SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS content ON memory TYPE string;
    DEFINE FIELD IF NOT EXISTS source ON memory TYPE string
        ASSERT $value IN ["core", "daily_log", "conversation", "reaction", "reflection"];
    DEFINE FIELD IF NOT EXISTS importance ON memory TYPE float
        ASSERT $value >= 0 AND $value <= 1;
    DEFINE FIELD IF NOT EXISTS embedding ON memory TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS metadata ON memory TYPE option<object> FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON memory TYPE datetime;
    DEFINE FIELD IF NOT EXISTS accessed ON memory TYPE datetime;

    DEFINE INDEX IF NOT EXISTS memory_source ON memory FIELDS source;
    DEFINE INDEX IF NOT EXISTS memory_created ON memory FIELDS created;
    DEFINE INDEX IF NOT EXISTS memory_external_id ON memory FIELDS metadata.external_id;
    DEFINE INDEX IF NOT EXISTS memory_embedding ON memory FIELDS embedding HNSW DIMENSION %d DIST COSINE TYPE F32;
`

// SchemaSQL returns the schema definition for the given embedding dimension.
func SchemaSQL(dimension int) string {
	return fmt.Sprintf(schemaTemplate, dimension)
}
