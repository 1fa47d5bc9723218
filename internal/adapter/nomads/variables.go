package nomads

// GRIB short names and filter levels requested per forecast kind.
var (
	WaveVariables = []string{
		"HTSGW", "PERPW", "DIRPW",
		"WVHGT", "WVPER", "WVDIR",
		"SWELL", "SWPER", "SWDIR",
	}
	WaveLevels = []string{
		"surface",
		"1_in_sequence",
		"2_in_sequence",
		"3_in_sequence",
	}

	WindVariables = []string{"UGRD", "VGRD", "GUST"}
	WindLevels    = []string{"10_m_above_ground", "surface"}
)
