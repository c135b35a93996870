package sqlite

import "time"

// nowFunc is overridden in tests that need deterministic timestamps.
var nowFunc = time.Now
