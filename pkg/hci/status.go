package hci

import (
	"errors"
	"fmt"

	"github.com/open-source-firmware/go-hci-offload-proxy/pkg/wire"
)

// Status is the Bluetooth Core Spec Part F status/error code carried by
// CommandComplete, CommandStatus, and most events with an outcome. Unlike a
// bitfield, an unrecognized byte value fails to decode rather than being
// coerced into a catch-all variant: there is no "Unknown" member.
type Status uint8

// ErrUnknownStatus is returned when a status byte does not match any of the
// 72 values defined in Part F.
var ErrUnknownStatus = errors.New("hci: unknown status value")

const (
	StatusSuccess                                          Status = 0x00
	StatusUnknownHciCommand                                Status = 0x01
	StatusUnknownConnectionIdentifier                      Status = 0x02
	StatusHardwareFailure                                   Status = 0x03
	StatusPageTimeout                                       Status = 0x04
	StatusAuthenticationFailure                             Status = 0x05
	StatusPinOrKeyMissing                                   Status = 0x06
	StatusMemoryCapacityExceeded                            Status = 0x07
	StatusConnectionTimeout                                 Status = 0x08
	StatusConnectionLimitExceeded                           Status = 0x09
	StatusSynchronousConnectionLimitExceeded                Status = 0x0A
	StatusConnectionAlreadyExists                           Status = 0x0B
	StatusCommandDisallowed                                 Status = 0x0C
	StatusConnectionRejectedLimitedResources                Status = 0x0D
	StatusConnectionRejectedSecurityReasons                 Status = 0x0E
	StatusConnectionRejectedUnacceptableBdAddr               Status = 0x0F
	StatusConnectionAcceptTimeoutExceeded                   Status = 0x10
	StatusUnsupportedFeatureOrParameterValue                Status = 0x11
	StatusInvalidHciCommandParameters                       Status = 0x12
	StatusRemoteUserTerminatedConnection                    Status = 0x13
	StatusRemoteDeviceTerminatedConnectionLowResources       Status = 0x14
	StatusRemoteDeviceTerminatedConnectionPowerOff           Status = 0x15
	StatusConnectionTerminatedByLocalHost                   Status = 0x16
	StatusRepeatedAttempts                                  Status = 0x17
	StatusPairingNotAllowed                                 Status = 0x18
	StatusUnknownLmpPdu                                     Status = 0x19
	StatusUnsupportedRemoteFeature                          Status = 0x1A
	StatusScoOffsetRejected                                 Status = 0x1B
	StatusScoIntervalRejected                                Status = 0x1C
	StatusScoAirModeRejected                                Status = 0x1D
	StatusInvalidLmpParameters                              Status = 0x1E
	StatusUnspecifiedError                                  Status = 0x1F
	StatusUnsupportedLmpParameterValue                      Status = 0x20
	StatusRoleChangeNotAllowed                              Status = 0x21
	StatusLmpResponseTimeout                                Status = 0x22
	StatusLmpErrorTransactionCollision                      Status = 0x23
	StatusLmpPduNotAllowed                                  Status = 0x24
	StatusEncryptionModeNotAcceptable                       Status = 0x25
	StatusLinkKeyCannotBeChanged                            Status = 0x26
	StatusRequestedQosNotSupported                          Status = 0x27
	StatusInstantPassed                                     Status = 0x28
	StatusPairingWithUnitKeyNotSupported                    Status = 0x29
	StatusDifferentTransactionCollision                     Status = 0x2A
	StatusReservedForUse2B                                  Status = 0x2B
	StatusQosUnacceptableParameter                          Status = 0x2C
	StatusQosRejected                                       Status = 0x2D
	StatusChannelClassificationNotSupported                 Status = 0x2E
	StatusInsufficientSecurity                              Status = 0x2F
	StatusParameterOutOfMandatoryRange                      Status = 0x30
	StatusReservedForUse31                                  Status = 0x31
	StatusRoleSwitchPending                                 Status = 0x32
	StatusReservedForUse33                                  Status = 0x33
	StatusReservedSlotViolation                             Status = 0x34
	StatusRoleSwitchFailed                                  Status = 0x35
	StatusExtendedInquiryResponseTooLarge                   Status = 0x36
	StatusSecureSimplePairingNotSupportedByHost              Status = 0x37
	StatusHostBusy                                          Status = 0x38
	StatusConnectionRejectedNoSuitableChannelFound          Status = 0x39
	StatusControllerBusy                                    Status = 0x3A
	StatusUnacceptableConnectionParameters                  Status = 0x3B
	StatusAdvertisingTimeout                                Status = 0x3C
	StatusConnectionTerminatedMicFailure                    Status = 0x3D
	StatusConnectionFailedEstablished                       Status = 0x3E
	StatusPreviouslyUsed3F                                  Status = 0x3F
	StatusCoarseClockAdjustmentRejected                     Status = 0x40
	StatusType0SubmapNotDefined                             Status = 0x41
	StatusUnknownAdvertisingIdentifier                      Status = 0x42
	StatusLimitReached                                      Status = 0x43
	StatusOperationCancelledByHost                          Status = 0x44
	StatusPacketTooLong                                     Status = 0x45
	StatusTooLate                                           Status = 0x46
	StatusTooEarly                                          Status = 0x47
)

var statusNames = map[Status]string{
	StatusSuccess:                                    "Success",
	StatusUnknownHciCommand:                          "UnknownHciCommand",
	StatusUnknownConnectionIdentifier:                "UnknownConnectionIdentifier",
	StatusHardwareFailure:                            "HardwareFailure",
	StatusPageTimeout:                                "PageTimeout",
	StatusAuthenticationFailure:                       "AuthenticationFailure",
	StatusPinOrKeyMissing:                             "PinOrKeyMissing",
	StatusMemoryCapacityExceeded:                      "MemoryCapacityExceeded",
	StatusConnectionTimeout:                           "ConnectionTimeout",
	StatusConnectionLimitExceeded:                     "ConnectionLimitExceeded",
	StatusSynchronousConnectionLimitExceeded:          "SynchronousConnectionLimitExceeded",
	StatusConnectionAlreadyExists:                     "ConnectionAlreadyExists",
	StatusCommandDisallowed:                           "CommandDisallowed",
	StatusConnectionRejectedLimitedResources:          "ConnectionRejectedLimitedResources",
	StatusConnectionRejectedSecurityReasons:           "ConnectionRejectedSecurityReasons",
	StatusConnectionRejectedUnacceptableBdAddr:        "ConnectionRejectedUnacceptableBdAddr",
	StatusConnectionAcceptTimeoutExceeded:             "ConnectionAcceptTimeoutExceeded",
	StatusUnsupportedFeatureOrParameterValue:          "UnsupportedFeatureOrParameterValue",
	StatusInvalidHciCommandParameters:                 "InvalidHciCommandParameters",
	StatusRemoteUserTerminatedConnection:              "RemoteUserTerminatedConnection",
	StatusRemoteDeviceTerminatedConnectionLowResources: "RemoteDeviceTerminatedConnectionLowResources",
	StatusRemoteDeviceTerminatedConnectionPowerOff:    "RemoteDeviceTerminatedConnectionPowerOff",
	StatusConnectionTerminatedByLocalHost:             "ConnectionTerminatedByLocalHost",
	StatusRepeatedAttempts:                            "RepeatedAttempts",
	StatusPairingNotAllowed:                           "PairingNotAllowed",
	StatusUnknownLmpPdu:                               "UnknownLmpPdu",
	StatusUnsupportedRemoteFeature:                    "UnsupportedRemoteFeature",
	StatusScoOffsetRejected:                           "ScoOffsetRejected",
	StatusScoIntervalRejected:                         "ScoIntervalRejected",
	StatusScoAirModeRejected:                          "ScoAirModeRejected",
	StatusInvalidLmpParameters:                        "InvalidLmpParameters",
	StatusUnspecifiedError:                            "UnspecifiedError",
	StatusUnsupportedLmpParameterValue:                "UnsupportedLmpParameterValue",
	StatusRoleChangeNotAllowed:                        "RoleChangeNotAllowed",
	StatusLmpResponseTimeout:                          "LmpResponseTimeout",
	StatusLmpErrorTransactionCollision:                "LmpErrorTransactionCollision",
	StatusLmpPduNotAllowed:                            "LmpPduNotAllowed",
	StatusEncryptionModeNotAcceptable:                 "EncryptionModeNotAcceptable",
	StatusLinkKeyCannotBeChanged:                      "LinkKeyCannotBeChanged",
	StatusRequestedQosNotSupported:                    "RequestedQosNotSupported",
	StatusInstantPassed:                               "InstantPassed",
	StatusPairingWithUnitKeyNotSupported:              "PairingWithUnitKeyNotSupported",
	StatusDifferentTransactionCollision:               "DifferentTransactionCollision",
	StatusReservedForUse2B:                            "ReservedForUse2B",
	StatusQosUnacceptableParameter:                    "QosUnacceptableParameter",
	StatusQosRejected:                                 "QosRejected",
	StatusChannelClassificationNotSupported:           "ChannelClassificationNotSupported",
	StatusInsufficientSecurity:                        "InsufficientSecurity",
	StatusParameterOutOfMandatoryRange:                "ParameterOutOfMandatoryRange",
	StatusReservedForUse31:                            "ReservedForUse31",
	StatusRoleSwitchPending:                           "RoleSwitchPending",
	StatusReservedForUse33:                            "ReservedForUse33",
	StatusReservedSlotViolation:                       "ReservedSlotViolation",
	StatusRoleSwitchFailed:                            "RoleSwitchFailed",
	StatusExtendedInquiryResponseTooLarge:             "ExtendedInquiryResponseTooLarge",
	StatusSecureSimplePairingNotSupportedByHost:       "SecureSimplePairingNotSupportedByHost",
	StatusHostBusy:                                    "HostBusy",
	StatusConnectionRejectedNoSuitableChannelFound:    "ConnectionRejectedNoSuitableChannelFound",
	StatusControllerBusy:                              "ControllerBusy",
	StatusUnacceptableConnectionParameters:            "UnacceptableConnectionParameters",
	StatusAdvertisingTimeout:                          "AdvertisingTimeout",
	StatusConnectionTerminatedMicFailure:              "ConnectionTerminatedMicFailure",
	StatusConnectionFailedEstablished:                 "ConnectionFailedEstablished",
	StatusPreviouslyUsed3F:                            "PreviouslyUsed3F",
	StatusCoarseClockAdjustmentRejected:               "CoarseClockAdjustmentRejected",
	StatusType0SubmapNotDefined:                       "Type0SubmapNotDefined",
	StatusUnknownAdvertisingIdentifier:                "UnknownAdvertisingIdentifier",
	StatusLimitReached:                                "LimitReached",
	StatusOperationCancelledByHost:                    "OperationCancelledByHost",
	StatusPacketTooLong:                               "PacketTooLong",
	StatusTooLate:                                     "TooLate",
	StatusTooEarly:                                    "TooEarly",
}

// String implements fmt.Stringer, matching the fully-named enum the teacher's
// status tables carry in pkg/core/uid.go.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%02x)", uint8(s))
}

func readStatus(r *wire.Reader) (Status, error) {
	v, err := r.ReadU8()
	if err != nil {
		return 0, err
	}
	s := Status(v)
	if _, ok := statusNames[s]; !ok {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownStatus, v)
	}
	return s, nil
}

func writeStatus(w *wire.Writer, s Status) {
	w.WriteU8(uint8(s))
}
