package models

import "fmt"

type CreateSessionRequest struct {
	StartDelaySeconds int `json:"start_delay_seconds"`
}

type JoinRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
	AvatarRef   string `json:"avatar_ref"`
}

type CommitRequest struct {
	Skip  bool `json:"skip"`
	Value int  `json:"value"`
}

func (r *CommitRequest) Validate() error {
	if r.Skip {
		return nil
	}
	if r.Value < 1 || r.Value > DieSides {
		return fmt.Errorf("card value must be between 1 and %d", DieSides)
	}
	return nil
}

type VerifyRequest struct {
	Reveal     string `json:"reveal" binding:"required"`
	Commitment string `json:"commitment" binding:"required"`
}
