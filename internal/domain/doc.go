// Package domain models NOAA Global Forecast System (GFS) model runs and the
// forecast series derived from them.
//
// # Model Cycles
//
// GFS runs four times a day at 00, 06, 12 and 18 UTC. Output for a cycle is
// published under a date/hour directory on NOMADS:
//
//	{base}/gfs.20250206/06/wave/station/...   wave point bulletins
//	{base}/gfs.20250206/06/wave/gridded/...   wave grids (GFS-Wave)
//	{base}/gfs.20250206/06/atmos/...          atmosphere grids
//
// Files for a cycle typically appear three to five hours after the cycle
// start. A [ModelRun] records the cycle identity and the provider's
// Last-Modified time for the probe file (AvailableTime).
//
// # Wave Bulletins
//
// Station bulletins are fixed-width text tables. Data rows look like:
//
//	|  6  6 |  1.01  2  |   0.87  5.4 263 |   0.45 10.2 109 |                 |
//
// The first cell is the day of month and hour (UTC) of the valid time; the
// second is the total significant height with partition counts; each
// remaining cell is one partition: height (m), peak period (s) and mean
// direction (degrees, coming from). An asterisk before a value marks a
// low-confidence partition and is ignored.
//
// # Longitudes
//
// GFS grids use 0–360 longitudes while station metadata uses −180–180.
// The package canonical form is −180–180; datasets keep the convention of
// their configured region bounds and callers normalize at that boundary
// with [Region.NormalizeLon].
//
// # Units
//
//	Wave height:    metres
//	Wave period:    seconds
//	Direction:      degrees true, direction the wave or wind comes from
//	Wind speed:     metres per second (10 m above ground)
package domain
