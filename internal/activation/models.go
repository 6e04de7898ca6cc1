package activation

import "time"

type Key struct {
	Code      string
	Claimant  string
	CreatedAt time.Time
}

func (k Key) Claimed() bool {
	return k.Claimant != ""
}
