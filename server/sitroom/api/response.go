package api

import (
	"sitroom_server/server/common/transport/httpresp"
)

const ErrUnauthorized = httpresp.ErrUnauthorized

type ErrorResponse = httpresp.ErrorResponse

type HealthResponse struct {
	Status string `json:"status"`
}

func NewErrorResponse(message string) ErrorResponse {
	return httpresp.NewErrorResponse(message)
}

func NewHealthResponse(status string) HealthResponse {
	return HealthResponse{Status: status}
}
