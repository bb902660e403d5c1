package dhcp4lease

// DHCP option tags relevant to lease decoding (RFC 2132, RFC 3442).
const (
	optionSubnetMask       = 1
	optionRouter           = 3
	optionDomainNameServer = 6
	optionHostName         = 12
	optionDomainName       = 15
	optionRootPath         = 17
	optionInterfaceMTU     = 26
	optionBroadcastAddr    = 28
	optionStaticRoute      = 33
	optionNTPServer        = 42
	optionVendorSpecific   = 43
	optionRequestedIPAddr  = 50
	optionLeaseTime        = 51
	optionMessageType      = 53
	optionServerID         = 54
	optionRenewalT1        = 58
	optionRebindingT2      = 59
	optionTZDBTimezone     = 101
	optionClasslessRoutes  = 121

	optionPrivateBase = 224
	optionPrivateLast = 254
)

// MessageType is the DHCP message type carried in option 53.
type MessageType uint8

const (
	MessageTypeUnknown  MessageType = 0
	MessageTypeDiscover MessageType = 1
	MessageTypeOffer    MessageType = 2
	MessageTypeRequest  MessageType = 3
	MessageTypeDecline  MessageType = 4
	MessageTypeACK      MessageType = 5
	MessageTypeNAK      MessageType = 6
	MessageTypeRelease  MessageType = 7
	MessageTypeInform   MessageType = 8
)
