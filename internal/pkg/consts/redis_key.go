package consts

const (
	TokenBlacklistKey      = "token:blacklist:"
	BookingParticipantsKey = "booking:participants:"
	IMConversationChannel  = "im:conversation:"
	IMUserChannel          = "im:user:"
	IMChannelPattern       = "im:*"
)
