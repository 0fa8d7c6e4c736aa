// Package record defines the records mirrored from the Employee Hub service.
//
// Records are plain values. The store owns every published instance and hands
// out copies, so nothing outside the store can mutate mirrored state.
//
// Collections:
//   - users: employees with their spendable balance and received total
//   - projects: projects and their employee assignments
//   - rewards: the redeemable reward catalogue
//   - kudos: confirmed kudos transactions (the feed)
//   - redemptions: confirmed reward redemptions
package record
