package gps

// Package gps reads position fixes for the estimator from a serial NMEA
// receiver or a gpsd socket.
//
// - NMEA: RMC for lat/lon, GGA for satellite count and HDOP; horizontal
//   accuracy is derived from HDOP.
// - gpsd: TPV JSON reports with their estimated position errors.
//
// Fixes are handed to the tick loop through TakeFix, a take-and-clear
// mailbox: each fix is consumed at most once and never retained.
