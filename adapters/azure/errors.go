package azure

import (
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/next-trace/scg-azure-servicebus/contract/broker"
	berr "github.com/next-trace/scg-azure-servicebus/contract/errors"
)

type errorKind int

const (
	kindOther errorKind = iota
	kindNotFound
	kindExists
	kindTransient
)

// classify maps SDK errors onto the broker error contract.
func classify(entity string, err error) error {
	if err == nil {
		return nil
	}

	kind := kindOther

	var sbErr *azservicebus.Error

	var respErr *azcore.ResponseError

	switch {
	case errors.Is(err, azservicebus.ErrMessageTooLarge):
		return errors.Join(berr.ErrMessageTooLarge, err)
	case errors.As(err, &sbErr):
		kind = kindOfCode(sbErr.Code)
	case errors.As(err, &respErr):
		kind = kindOfStatus(respErr.StatusCode)
	}

	switch kind {
	case kindNotFound:
		return broker.NotFound(entity, err)
	case kindExists:
		return broker.Exists(entity, err)
	case kindTransient:
		return broker.Transient(err)
	default:
		return err
	}
}

func kindOfCode(code azservicebus.Code) errorKind {
	switch code {
	case azservicebus.CodeNotFound:
		return kindNotFound
	case azservicebus.CodeConnectionLost, azservicebus.CodeTimeout:
		return kindTransient
	default:
		return kindOther
	}
}

func kindOfStatus(status int) errorKind {
	switch status {
	case http.StatusNotFound:
		return kindNotFound
	case http.StatusConflict:
		return kindExists
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return kindTransient
	default:
		return kindOther
	}
}

func isCode(err error, code azservicebus.Code) bool {
	var sbErr *azservicebus.Error
	return errors.As(err, &sbErr) && sbErr.Code == code
}
