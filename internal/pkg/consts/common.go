package consts

// WebSocket 事件类型，客户端 -> 服务端
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventMarkRead    = "mark_read"
	EventPing        = "ping"
)

// WebSocket 事件类型，服务端 -> 客户端
const (
	EventConnected           = "connected"
	EventJoined              = "joined"
	EventLeft                = "left"
	EventNewMessage          = "new_message"
	EventMessageAck          = "message_ack"
	EventMessagesMarkedRead  = "messages_marked_read"
	EventConversationDeleted = "conversation_deleted"
	EventError               = "error"
	EventPong                = "pong"
)

// 预约事件类型
const (
	BookingEventCancelled   = "cancelled"
	BookingEventCompleted   = "completed"
	BookingEventReactivated = "reactivated"
)

const (
	MaxHistoryPageSize = 100
)
