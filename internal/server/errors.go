package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/gitdeploy/internal/failure"
)

// statusFor maps a failure kind to an HTTP status.
func statusFor(kind failure.Kind) int {
	switch kind {
	case failure.NotFound, failure.BackupNotFound:
		return http.StatusNotFound
	case failure.InvalidArgument, failure.InvalidReference:
		return http.StatusBadRequest
	case failure.AlreadyExists, failure.Busy:
		return http.StatusConflict
	case failure.IncompatibleArchive, failure.MetadataMissing, failure.MetadataInvalid, failure.TargetMissing:
		return http.StatusUnprocessableEntity
	case failure.RateLimited:
		return http.StatusTooManyRequests
	case failure.AuthRequired, failure.AuthInsufficient, failure.Transport, failure.DownloadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Kind    failure.Kind `json:"kind"`
	Message string       `json:"message"`
	Op      string       `json:"op,omitempty"`
	Checked []string     `json:"checked,omitempty"`
}

// abortWithError renders err as {"error": {...}}.
func abortWithError(c *gin.Context, err error) {
	fe := failure.As(err)
	c.AbortWithStatusJSON(statusFor(fe.Kind), gin.H{"error": errorBody{
		Kind:    fe.Kind,
		Message: fe.Error(),
		Op:      fe.Op,
		Checked: fe.Checked,
	}})
}

func badRequest(c *gin.Context, msg string) {
	abortWithError(c, failure.New(failure.InvalidArgument, "%s", msg))
}
