package models

import "time"

type TargetKind string

const (
	TargetUser    TargetKind = "user"
	TargetProduct TargetKind = "product"
)

type Report struct {
	ID         string     `json:"id"`
	ReporterID string     `json:"reporter_id"`
	TargetID   string     `json:"target_id"`
	TargetKind TargetKind `json:"target_kind"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
}
