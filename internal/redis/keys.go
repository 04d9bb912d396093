package redisx

const ns = "clubs:v1"

func ChannelBookingsChanged() string {
	return ns + ":bookings:changed"
}
