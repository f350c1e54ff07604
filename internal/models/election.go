package models

import (
	"time"

	"github.com/google/uuid"
)

// ElectionConfig — глобальный конфиг выборов (одна строка, ID = 1).
type ElectionConfig struct {
	ID             uint       `gorm:"primaryKey" json:"-"`
	ElectionStarts *time.Time `json:"election_starts"`
	ElectionEnds   *time.Time `json:"election_ends"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ElectionConfigID — первичный ключ единственной строки конфига.
const ElectionConfigID uint = 1

type Election struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Slug        string     `gorm:"size:300;uniqueIndex;not null" json:"slug"`
	StartDate   *time.Time `gorm:"index" json:"start_date"`
	EndDate     *time.Time `gorm:"index" json:"end_date"`
	Offices     []Office   `gorm:"constraint:OnDelete:CASCADE" json:"offices,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Office struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	ElectionID  uint        `gorm:"not null;index" json:"election_id"`
	Name        string      `gorm:"size:255;not null" json:"name"`
	Description string      `gorm:"type:text" json:"description"`
	IsActive    bool        `gorm:"not null" json:"is_active"`
	Candidates  []Candidate `gorm:"constraint:OnDelete:CASCADE" json:"candidates,omitempty"`
}

type Candidate struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	OfficeID     uint   `gorm:"not null;index" json:"office_id"`
	Name         string `gorm:"size:255;not null" json:"name"`
	Manifesto    string `gorm:"type:text" json:"manifesto"`
	Disqualified bool   `gorm:"not null;default:false" json:"disqualified"`
	Votes        []Vote `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Vote — голос избирателя. Наличие строки = действительный голос.
// OfficeID дублирует офис кандидата: (office, voter) уникален.
type Vote struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	CandidateID uint      `gorm:"not null;uniqueIndex:ux_votes_candidate_voter" json:"candidate_id"`
	OfficeID    uint      `gorm:"not null;uniqueIndex:ux_votes_office_voter" json:"office_id"`
	VoterID     uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:ux_votes_candidate_voter;uniqueIndex:ux_votes_office_voter" json:"voter_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type VoteLock struct {
	ID         uint      `gorm:"primaryKey"`
	ElectionID uint      `gorm:"not null;uniqueIndex:ux_vote_locks_election_voter"`
	VoterID    uuid.UUID `gorm:"type:char(36);not null;uniqueIndex:ux_vote_locks_election_voter"`
	Election   Election  `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt  time.Time
}
