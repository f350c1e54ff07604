package models

// All — модели для AutoMigrate (порядок важен для внешних ключей).
func All() []any {
	return []any{
		&UserAccount{},
		&Student{},
		&Session{},
		&OTPSecret{},
		&ElectionConfig{},
		&Election{},
		&Office{},
		&Candidate{},
		&Vote{},
		&VoteLock{},
	}
}
