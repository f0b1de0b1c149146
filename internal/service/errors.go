package service

import (
	"Rendezvous/internal/pkg/security"
	"errors"

	pkgerrors "github.com/pkg/errors"
)

const (
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrUnauthenticated    = errors.New("未登录或凭据无效")
	ErrForbidden          = errors.New("不是该会话的参与者")
	ErrConversationClosed = errors.New("预约已关闭，无法发送消息")
	ErrNotFound           = errors.New("会话或消息不存在")
	ErrValidation         = errors.New("参数错误")
	ErrTransient          = errors.New("存储暂时不可用，请重试")
	ErrUnavailable        = errors.New("实时通道不可用")
	UnExpectedError       = errors.New("系统异常，请稍后重试")
)

var ErrorMap = map[error]int{
	ErrUnauthenticated:    Unauthorized,
	ErrForbidden:          Forbidden,
	ErrConversationClosed: Forbidden,
	ErrNotFound:           NotFound,
	ErrValidation:         BadRequest,
	ErrTransient:          ServiceUnavailable,
	ErrUnavailable:        ServiceUnavailable,
	UnExpectedError:       InternalServerError,
}

// CodeOf 按错误链匹配业务码，未知错误返回 500
func CodeOf(err error) (int, bool) {
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			return code, true
		}
	}
	return InternalServerError, false
}

// AuthError 凭据问题归为 401，校验过程中的基础设施故障归为 503
func AuthError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrTokenMissing),
		errors.Is(err, security.ErrTokenInvalid),
		errors.Is(err, security.ErrTokenRevoked):
		return pkgerrors.WithMessage(ErrUnauthenticated, err.Error())
	default:
		return pkgerrors.WithMessage(ErrTransient, err.Error())
	}
}
