// Package iwldvm handles the notifications and command replies that a DVM
// firmware wireless card sends to its host: statistics, radio health, card
// state, receive PHY data and MPDUs.
//
// The card is reached through the RegisterBus, RxSource and CommandSender
// interfaces. Two transports ship with the package. New drives an example
// SPI bridge MCU whose opcode protocol is defined here, not by the card.
// OpenDevSource replays receive buffers from a character device or capture
// file on Linux.
package iwldvm
