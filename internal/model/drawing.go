package model

import "time"

// EnhancementStatus は画像の仕上げ処理の状態を表す。
type EnhancementStatus string

const (
	// EnhancementNone は仕上げ未要求。
	EnhancementNone EnhancementStatus = "none"
	// EnhancementPending はワーカーの処理待ち。
	EnhancementPending EnhancementStatus = "pending"
	// EnhancementProcessing はワーカーが処理中。
	EnhancementProcessing EnhancementStatus = "processing"
	// EnhancementCompleted は仕上げ済み。
	EnhancementCompleted EnhancementStatus = "completed"
	// EnhancementFailed はリトライ上限に達して失敗。
	EnhancementFailed EnhancementStatus = "failed"
)

// InFlight は処理待ちまたは処理中かを返す。
func (s EnhancementStatus) InFlight() bool {
	return s == EnhancementPending || s == EnhancementProcessing
}

// Drawing は保存された絵（ジャーナルエントリ）を表す。
type Drawing struct {
	ID                  string
	UserID              string
	Title               string
	ImageURL            string
	StoragePath         string
	ThumbnailURL        string
	ThumbnailPath       string
	EnhancedImageURL    string
	EnhancedStoragePath string
	IsEnhanced          bool
	IsGratitudeEntry    bool
	IsPublic            bool
	GratitudePrompt     string
	UserDescription     string
	StyleHint           string
	StarCount           int
	Snapshot            []byte // canvas.Snapshot のJSON

	EnhancementStatus   EnhancementStatus
	EnhancementAttempts int
	EnhancementError    string
	NextEnhanceAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoragePaths は絵に紐付くオブジェクトストレージのパスを返す。
func (d *Drawing) StoragePaths() []string {
	var paths []string
	for _, p := range []string{d.StoragePath, d.ThumbnailPath, d.EnhancedStoragePath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

// DrawingWithStar は閲覧ユーザーのスター状態を含む絵。
type DrawingWithStar struct {
	Drawing
	IsStarred bool
}
