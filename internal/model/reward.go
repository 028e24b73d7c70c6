package model

// Streak は感謝エントリの連続記録を表す。
type Streak struct {
	Current int
	Longest int
	Total   int
}

// Reward は連続記録で解放される報酬を表す。
type Reward struct {
	Key       string
	Days      int
	Unlocked  bool
	Remaining int
}
