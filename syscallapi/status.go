package syscallapi

// NTSTATUS values a handler can return. Apart from StatusPending, which no
// handler returns, only the subset this package's handlers actually produce
// is listed; anything else funnels through
// StatusNotImplemented via an unhandled service.
const (
	StatusSuccess              uint32 = 0x00000000
	StatusWait0                uint32 = 0x00000000
	StatusAbandonedWait0       uint32 = 0x00000080
	StatusTimeout              uint32 = 0x00000102
	StatusPending              uint32 = 0x00000103
	StatusUnsuccessful         uint32 = 0xC0000001
	StatusNotImplemented       uint32 = 0xC0000002
	StatusInvalidHandle        uint32 = 0xC0000008
	StatusInvalidParameter     uint32 = 0xC000000D
	StatusNoMemory             uint32 = 0xC0000017
	StatusConflictingAddresses uint32 = 0xC0000018
	StatusAlreadyCommitted     uint32 = 0xC0000021
	StatusAccessViolation      uint32 = 0xC0000005
	StatusBufferTooSmall       uint32 = 0xC0000023
	StatusObjectNameNotFound   uint32 = 0xC0000034
	StatusObjectPathNotFound   uint32 = 0xC000003A
	StatusMutantNotOwned       uint32 = 0xC0000046
	StatusSemaphoreLimitExceeded uint32 = 0xC0000047
	StatusNoSuchFile          uint32 = 0xC000000F
	StatusEndOfFile           uint32 = 0xC0000011
)
