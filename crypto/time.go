package crypto

import "time"

// nowFunc is a var so tests can freeze time; production code never
// reassigns it.
var nowFunc = time.Now
