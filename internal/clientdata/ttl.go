package clientdata

import "time"

// DefaultPriceHistoryTTL keeps daily bars long enough to serve every profile
// of a run from one fetch, short enough to pick up the next session's close
const DefaultPriceHistoryTTL = 15 * time.Minute
