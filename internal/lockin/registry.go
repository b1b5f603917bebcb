package lockin

import (
	"github.com/KevinKickass/OpenLockIn/internal/device"
	"github.com/KevinKickass/OpenLockIn/internal/types"
)

func (a *Amplifier) registerAttributes() device.AttributeTable {
	return device.AttributeTable{
		{
			Info: readOnly("X", "X", types.DisplayLevelOperator, "V", "Readable X value."),
			Read: a.ReadX,
		},
		{
			Info: readOnly("Y", "Y", types.DisplayLevelOperator, "V", "Readable Y value."),
			Read: a.ReadY,
		},
		{
			Info: readOnly("R", "R", types.DisplayLevelOperator, "V", "Readable R value."),
			Read: a.ReadR,
		},
		{
			Info: readOnly("phase", "Phase", types.DisplayLevelExpert, "deg", "Readable phase attribute."),
			Read: a.ReadPhase,
		},
	}
}

func (a *Amplifier) registerCommands() device.CommandTable {
	return device.CommandTable{
		{
			Info: types.CommandInfo{
				Name:        "turn_off",
				InputType:   types.DataTypeVoid,
				OutputType:  types.DataTypeVoid,
				Description: "Set the device state to OFF.",
			},
			Execute: a.TurnOff,
		},
		{
			Info: types.CommandInfo{
				Name:        "turn_on",
				InputType:   types.DataTypeVoid,
				OutputType:  types.DataTypeVoid,
				Description: "Set the device state to ON.",
			},
			Execute: a.TurnOn,
		},
	}
}

func readOnly(name, label string, display types.DisplayLevel, unit, doc string) types.AttributeInfo {
	return types.AttributeInfo{
		Name:        name,
		Label:       label,
		DataType:    types.DataTypeFloat64,
		Access:      types.AccessTypeReadOnly,
		Display:     display,
		Unit:        unit,
		Description: doc,
	}
}
