// Package model defines the data types shared by every marketsync component.
//
// Conventions:
//   - Prices and volumes: float64, as delivered by the analytics backend
//   - Timestamps: time.Time in UTC; a candle is identified by its OpenTime
//   - Instruments: upper-case symbols; venues: lower-case ISO 10383 MIC codes
package model
